package preview

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseHead reads metadata from the document head. It stops at <body> or </head>.
// Open Graph tags win over Twitter cards, which win over plain <title>/<meta name=description>.
func parseHead(r io.Reader, base *url.URL) Preview {
	var (
		ogTitle, twTitle, docTitle string
		ogDesc, metaDesc           string
		ogImage, twImage           string
		icon                       string
		inTitle                    bool
	)

	z := html.NewTokenizer(r)
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Body:
				break loop
			case atom.Title:
				inTitle = docTitle == ""
			case atom.Meta:
				key, content := metaPair(tok)
				switch key {
				case "og:title":
					setOnce(&ogTitle, content)
				case "twitter:title":
					setOnce(&twTitle, content)
				case "og:description":
					setOnce(&ogDesc, content)
				case "description":
					setOnce(&metaDesc, content)
				case "og:image", "og:image:url", "og:image:secure_url":
					setOnce(&ogImage, content)
				case "twitter:image", "twitter:image:src":
					setOnce(&twImage, content)
				}
			case atom.Link:
				if icon == "" && isIconRel(attr(tok, "rel")) {
					icon = attr(tok, "href")
				}
			}

		case html.TextToken:
			if inTitle {
				docTitle += string(z.Text())
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Title:
				inTitle = false
			case atom.Head:
				break loop
			}
		}
	}

	p := Preview{
		Title:       clean(firstNonEmpty(ogTitle, twTitle, docTitle)),
		Description: clean(firstNonEmpty(ogDesc, metaDesc)),
		Image:       resolve(base, firstNonEmpty(ogImage, twImage)),
		Favicon:     resolve(base, icon),
	}
	if p.Favicon == "" && base != nil {
		p.Favicon = (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/favicon.ico"}).String()
	}
	return p
}

func metaPair(tok html.Token) (key, content string) {
	key = attr(tok, "property")
	if key == "" {
		key = attr(tok, "name")
	}
	return strings.ToLower(strings.TrimSpace(key)), attr(tok, "content")
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func isIconRel(rel string) bool {
	for _, f := range strings.Fields(strings.ToLower(rel)) {
		if f == "icon" {
			return true
		}
	}
	return false
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolve makes ref absolute against base and keeps only http(s) results.
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
