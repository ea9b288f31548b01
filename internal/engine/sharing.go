package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/events"
)

const defaultInviteTTLDays = 14

func (e Engine) inviteTTL() time.Duration {
	days := e.Config.Sharing.InviteTTLDays
	if days <= 0 {
		days = defaultInviteTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// CreateInvite shares a run with an email address. Only the owner may invite,
// and only one pending or accepted invite may exist per (run, email).
func (e Engine) CreateInvite(ctx context.Context, p auth.Principal, runID, email string, perm domain.Permission) (domain.ShareInvite, error) {
	email = auth.NormalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return domain.ShareInvite{}, fmt.Errorf("%w: a valid email is required", domain.ErrInvalidInput)
	}
	if !perm.Valid() {
		return domain.ShareInvite{}, fmt.Errorf("%w: permission must be view or review", domain.ErrInvalidInput)
	}
	unlock := e.lock(runID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ShareInvite{}, err
	}
	defer tx.Rollback()
	run, _, err := e.loadRun(ctx, tx, p, runID, auth.AccessOwner)
	if err != nil {
		return domain.ShareInvite{}, err
	}
	now := e.now()
	if _, err := e.Repo.ExpirePendingInvites(ctx, tx, domain.FormatTime(now)); err != nil {
		return domain.ShareInvite{}, err
	}
	existing, err := e.Repo.FindUnrevokedInvite(ctx, tx, run.ID, email)
	switch {
	case err == nil:
		return domain.ShareInvite{}, fmt.Errorf("%w: invite %s for %s is already %s", domain.ErrConflict, existing.ID, email, existing.Status)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ShareInvite{}, err
	}
	stamp := domain.FormatTime(now)
	inv := domain.ShareInvite{
		ID:              newID("inv"),
		RunID:           run.ID,
		Email:           email,
		Permission:      perm,
		Status:          domain.InvitePending,
		InvitedByUserID: p.UserID,
		CreatedAt:       stamp,
		UpdatedAt:       stamp,
		ExpiresAt:       domain.FormatTime(now.Add(e.inviteTTL())),
	}
	if err := e.Repo.InsertInvite(ctx, tx, inv); err != nil {
		return inv, fmt.Errorf("insert invite: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.InviteCreated, run.TenantID, "invite", inv.ID, p.ActorID(), events.EventPayload{
		"runId":      run.ID,
		"permission": string(perm),
	}); err != nil {
		return inv, err
	}
	if err := tx.Commit(); err != nil {
		return inv, err
	}
	e.Audit.LogShareEvent(events.InviteCreated, run.ID, inv.ID, string(perm))
	return inv, nil
}

// AcceptInvite binds a pending invite to the caller. The caller's verified
// email must match the invited address. Accepting twice is a no-op.
func (e Engine) AcceptInvite(ctx context.Context, p auth.Principal, inviteID string) (domain.ShareInvite, error) {
	email, ok := p.VerifiedEmail()
	if !ok || p.IsBot() {
		return domain.ShareInvite{}, auth.ForbiddenError{Permission: "verified_email"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ShareInvite{}, err
	}
	defer tx.Rollback()
	inv, err := e.Repo.GetInvite(ctx, tx, inviteID)
	if err != nil {
		return inv, err
	}
	if inv.Email != email {
		return domain.ShareInvite{}, fmt.Errorf("%w: invite %s", domain.ErrNotFound, inviteID)
	}
	switch inv.Status {
	case domain.InviteAccepted:
		return inv, nil
	case domain.InviteRevoked, domain.InviteExpired:
		return inv, fmt.Errorf("%w: invite is %s", domain.ErrInvalidState, inv.Status)
	case domain.InvitePending:
	}
	now := e.now()
	if exp, err := domain.ParseTime(inv.ExpiresAt); err == nil && !now.Before(exp) {
		inv.Status = domain.InviteExpired
		inv.UpdatedAt = domain.FormatTime(now)
		if err := e.Repo.UpdateInvite(ctx, tx, inv); err != nil {
			return inv, err
		}
		if err := tx.Commit(); err != nil {
			return inv, err
		}
		return inv, fmt.Errorf("%w: invite has expired", domain.ErrInvalidState)
	}
	inv.Status = domain.InviteAccepted
	inv.AcceptedByUserID = p.UserID
	inv.UpdatedAt = domain.FormatTime(now)
	if err := e.Repo.UpdateInvite(ctx, tx, inv); err != nil {
		return inv, err
	}
	if err := e.events().Append(ctx, tx, events.InviteAccepted, p.TenantID, "invite", inv.ID, p.ActorID(), events.EventPayload{"runId": inv.RunID}); err != nil {
		return inv, err
	}
	if err := tx.Commit(); err != nil {
		return inv, err
	}
	e.Audit.LogShareEvent(events.InviteAccepted, inv.RunID, inv.ID, string(inv.Permission))
	return inv, nil
}

// RevokeInvite revokes a pending or accepted invite. Terminal invites are
// returned unchanged.
func (e Engine) RevokeInvite(ctx context.Context, p auth.Principal, inviteID string) (domain.ShareInvite, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ShareInvite{}, err
	}
	defer tx.Rollback()
	inv, err := e.Repo.GetInvite(ctx, tx, inviteID)
	if err != nil {
		return inv, err
	}
	run, _, err := e.loadRun(ctx, tx, p, inv.RunID, auth.AccessOwner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ShareInvite{}, fmt.Errorf("%w: invite %s", domain.ErrNotFound, inviteID)
		}
		return domain.ShareInvite{}, err
	}
	if inv.Status.Terminal() {
		return inv, nil
	}
	inv.Status = domain.InviteRevoked
	inv.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateInvite(ctx, tx, inv); err != nil {
		return inv, err
	}
	if err := e.events().Append(ctx, tx, events.InviteRevoked, run.TenantID, "invite", inv.ID, p.ActorID(), events.EventPayload{"runId": run.ID}); err != nil {
		return inv, err
	}
	if err := tx.Commit(); err != nil {
		return inv, err
	}
	e.Audit.LogShareEvent(events.InviteRevoked, run.ID, inv.ID, string(inv.Permission))
	return inv, nil
}

// ListInvites returns every invite on a run. Owner only.
func (e Engine) ListInvites(ctx context.Context, p auth.Principal, runID string) ([]domain.ShareInvite, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.ExpirePendingInvites(ctx, tx, e.stamp()); err != nil {
		return nil, err
	}
	run, _, err := e.loadRun(ctx, tx, p, runID, auth.AccessOwner)
	if err != nil {
		return nil, err
	}
	invites, err := e.Repo.ListInvitesByRun(ctx, tx, run.ID)
	if err != nil {
		return nil, err
	}
	if invites == nil {
		invites = []domain.ShareInvite{}
	}
	return invites, tx.Commit()
}

// ListSharedWithMe returns runs shared with the caller's verified email,
// never including runs the caller owns.
func (e Engine) ListSharedWithMe(ctx context.Context, p auth.Principal) ([]domain.ValidationRun, error) {
	email, ok := p.VerifiedEmail()
	if !ok || p.IsBot() {
		return []domain.ValidationRun{}, nil
	}
	runs, err := e.Repo.ListSharedRuns(ctx, email, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []domain.ValidationRun{}
	}
	return runs, nil
}

// ExpireInvites marks pending invites past their expiry as expired.
func (e Engine) ExpireInvites(ctx context.Context) (int64, error) {
	return e.Repo.ExpirePendingInvites(ctx, nil, e.stamp())
}
