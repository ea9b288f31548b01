// Package auth resolves who a caller is and what they may do to a run.
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tnxgate/internal/domain"
	"tnxgate/internal/repo"
)

// RolePartner allows partner_bootstrap bot registration.
const RolePartner = "partner"

// Principal is an authenticated caller. Bot principals act for the bot's owner.
type Principal struct {
	UserID        string
	TenantID      string
	Email         string
	EmailVerified bool
	Roles         []string
	BotID         string
	KeyID         string
	Source        string
}

// ActorID is the id recorded in events and decisions.
func (p Principal) ActorID() string {
	if p.BotID != "" {
		return "bot:" + p.BotID
	}
	return p.UserID
}

func (p Principal) IsBot() bool { return p.BotID != "" }

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// VerifiedEmail returns the lower-cased email when it is verified.
func (p Principal) VerifiedEmail() (string, bool) {
	if !p.EmailVerified || p.Email == "" {
		return "", false
	}
	return NormalizeEmail(p.Email), true
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Access is an ordered access level: owner > review > view > none.
type Access int

const (
	AccessNone Access = iota
	AccessView
	AccessReview
	AccessOwner
)

func (a Access) String() string {
	switch a {
	case AccessView:
		return "view"
	case AccessReview:
		return "review"
	case AccessOwner:
		return "owner"
	}
	return "none"
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Unwrap lets callers match the error taxonomy.
func (e ForbiddenError) Unwrap() error { return domain.ErrForbidden }

// Owns reports whether p created run.
func Owns(p Principal, run domain.ValidationRun) bool {
	return p.UserID != "" && p.TenantID == run.TenantID && p.UserID == run.UserID
}

// Service resolves access from run ownership and accepted share invites.
type Service struct {
	Repo repo.Repo
}

// AccessFor returns the caller's level on run. Sharing only counts for a
// verified email; the highest accepted permission wins.
func (s Service) AccessFor(ctx context.Context, tx *sql.Tx, p Principal, run domain.ValidationRun) (Access, error) {
	if Owns(p, run) {
		return AccessOwner, nil
	}
	email, ok := p.VerifiedEmail()
	if !ok || p.IsBot() {
		return AccessNone, nil
	}
	perms, err := s.Repo.AcceptedPermissions(ctx, tx, run.ID, email)
	if err != nil {
		return AccessNone, err
	}
	level := AccessNone
	for _, perm := range perms {
		switch perm {
		case domain.PermissionReview:
			level = AccessReview
		case domain.PermissionView:
			if level < AccessView {
				level = AccessView
			}
		}
	}
	return level, nil
}

// Require returns a ForbiddenError naming want when have is below it.
func Require(have, want Access) error {
	if have >= want {
		return nil
	}
	return ForbiddenError{Permission: want.String()}
}
