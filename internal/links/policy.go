package links

import (
	"errors"
	"time"

	"github.com/sundayezeilo/linkshare/internal/auth"
	"github.com/sundayezeilo/linkshare/internal/errx"
)

const DefaultEditWindow = 60 * time.Second

var (
	errNotOwner     = errors.New("only the link owner may change this link")
	errWindowClosed = errors.New("edit window has closed")
	errNoUser       = errors.New("a signed-in user is required")
)

// EditWindowOpen reports whether a link created at createdAt may still be edited at now.
// The boundary itself is inside the window.
func EditWindowOpen(createdAt, now time.Time, window time.Duration) bool {
	return now.Sub(createdAt) <= window
}

// Policy is the single authorization predicate for link mutations.
type Policy struct {
	EditWindow            time.Duration
	AdminBypassOwnership  bool
	AdminBypassEditWindow bool
}

func DefaultPolicy() Policy {
	return Policy{
		EditWindow:            DefaultEditWindow,
		AdminBypassOwnership:  true,
		AdminBypassEditWindow: true,
	}
}

// EditableUntil is the last instant at which l is still editable by its owner.
func (p Policy) EditableUntil(l Link) time.Time {
	return l.CreatedAt.Add(p.EditWindow)
}

func (p Policy) CanCreate(pr auth.Principal) error {
	if pr.Role != auth.RoleUser || pr.UserID == "" {
		return errx.E("links.policy.CanCreate", errx.Forbidden, errNoUser)
	}
	return nil
}

// CanUpdate checks ownership first, then the edit window, both against the same now.
func (p Policy) CanUpdate(pr auth.Principal, l Link, now time.Time) error {
	const op = "links.policy.CanUpdate"

	if !p.owns(pr, l) && !(pr.IsAdmin() && p.AdminBypassOwnership) {
		return errx.E(op, errx.Forbidden, errNotOwner)
	}
	if !EditWindowOpen(l.CreatedAt, now, p.EditWindow) && !(pr.IsAdmin() && p.AdminBypassEditWindow) {
		return errx.E(op, errx.Expired, errWindowClosed)
	}
	return nil
}

// CanDelete is never gated by the edit window.
func (p Policy) CanDelete(pr auth.Principal, l Link) error {
	if !p.owns(pr, l) && !(pr.IsAdmin() && p.AdminBypassOwnership) {
		return errx.E("links.policy.CanDelete", errx.Forbidden, errNotOwner)
	}
	return nil
}

func (p Policy) owns(pr auth.Principal, l Link) bool {
	return pr.Role == auth.RoleUser && pr.UserID != "" && pr.UserID == l.OwnerID
}
