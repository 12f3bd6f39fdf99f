// Package preview fetches page metadata (title, description, image, favicon) for a link
// and caches it by normalized URL.
package preview

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Preview is the metadata shown on a link card. Every field is optional.
type Preview struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
}

// Empty reports whether the page yielded nothing usable.
func (p Preview) Empty() bool {
	return p.Title == "" && p.Description == "" && p.Image == ""
}

// NormalizeURL returns the cache identity of a link target: lower-cased scheme and host,
// default ports and fragments dropped, empty path as "/".
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("url must be absolute")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func cacheKey(normalized string) string {
	return fmt.Sprintf("preview:%s", normalized)
}
