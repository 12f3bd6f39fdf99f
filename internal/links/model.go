package links

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkshare/internal/preview"
)

const (
	MaxURLLength         = 2048
	MaxTitleLength       = 300
	MaxDescriptionLength = 2000
)

type Link struct {
	ID          uuid.UUID
	URL         string
	Title       string
	Description string
	OwnerID     string
	ClickCount  int64
	Preview     *preview.Preview
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput carries the caller-supplied fields of a new link.
type CreateInput struct {
	URL         string
	Title       string
	Description string
}

// Patch lists the fields an update may change. Nil means "leave as is".
type Patch struct {
	Title       *string
	Description *string
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url cannot be empty")
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("url exceeds maximum length of %d characters", MaxURLLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https scheme")
	}
	if u.Host == "" || u.Hostname() == "" {
		return errors.New("url must have a valid host")
	}
	return nil
}

func validateText(field, v string, maxRunes int) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%s must be valid UTF-8", field)
	}
	if utf8.RuneCountInString(v) > maxRunes {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, maxRunes)
	}
	if strings.ContainsFunc(v, isForbiddenControl) {
		return fmt.Errorf("%s contains control characters", field)
	}
	return nil
}

// isForbiddenControl rejects C0 controls and DEL but keeps tab and newlines.
func isForbiddenControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r < 0x20 || r == 0x7f
}

func (in CreateInput) validate() error {
	if err := validateURL(in.URL); err != nil {
		return err
	}
	if err := validateText("title", in.Title, MaxTitleLength); err != nil {
		return err
	}
	return validateText("description", in.Description, MaxDescriptionLength)
}

func (p Patch) validate() error {
	if p.Empty() {
		return errors.New("patch must set title or description")
	}
	if p.Title != nil {
		if err := validateText("title", *p.Title, MaxTitleLength); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateText("description", *p.Description, MaxDescriptionLength); err != nil {
			return err
		}
	}
	return nil
}
