package repo

import (
	"context"
	"database/sql"
	"fmt"

	"tnxgate/internal/domain"
)

const inviteColumns = `id,run_id,email,permission,status,invited_by_user_id,COALESCE(accepted_by_user_id,''),created_at,updated_at,expires_at`

func scanInvite(s scanner) (domain.ShareInvite, error) {
	var inv domain.ShareInvite
	err := s.Scan(&inv.ID, &inv.RunID, &inv.Email, &inv.Permission, &inv.Status, &inv.InvitedByUserID,
		&inv.AcceptedByUserID, &inv.CreatedAt, &inv.UpdatedAt, &inv.ExpiresAt)
	return inv, err
}

func collectInvites(rows *sql.Rows) ([]domain.ShareInvite, error) {
	defer rows.Close()
	res := []domain.ShareInvite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// InsertInvite stores a new invite. Email must already be normalized.
func (r Repo) InsertInvite(ctx context.Context, tx *sql.Tx, inv domain.ShareInvite) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO share_invites(id,run_id,email,permission,status,invited_by_user_id,accepted_by_user_id,created_at,updated_at,expires_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.RunID, inv.Email, inv.Permission, inv.Status, inv.InvitedByUserID, nullable(inv.AcceptedByUserID),
		inv.CreatedAt, inv.UpdatedAt, inv.ExpiresAt)
	return err
}

func (r Repo) GetInvite(ctx context.Context, tx *sql.Tx, id string) (domain.ShareInvite, error) {
	inv, err := scanInvite(r.q(tx).QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM share_invites WHERE id=?`, id))
	if err != nil {
		return inv, notFound(err, "invite", id)
	}
	return inv, nil
}

// FindUnrevokedInvite returns the pending, accepted or expired invite for (runID, email).
func (r Repo) FindUnrevokedInvite(ctx context.Context, tx *sql.Tx, runID, email string) (domain.ShareInvite, error) {
	inv, err := scanInvite(r.q(tx).QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM share_invites
WHERE run_id=? AND email=? AND status<>'revoked'`, runID, email))
	if err != nil {
		return inv, notFound(err, "invite for run", runID)
	}
	return inv, nil
}

// UpdateInvite persists status transitions.
func (r Repo) UpdateInvite(ctx context.Context, tx *sql.Tx, inv domain.ShareInvite) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE share_invites SET status=?,accepted_by_user_id=?,updated_at=? WHERE id=?`,
		inv.Status, nullable(inv.AcceptedByUserID), inv.UpdatedAt, inv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: invite %s", ErrNotFound, inv.ID)
	}
	return nil
}

// ExpirePendingInvites moves pending invites past their expiry to expired.
func (r Repo) ExpirePendingInvites(ctx context.Context, tx *sql.Tx, now string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE share_invites SET status='expired',updated_at=? WHERE status='pending' AND expires_at<=?`, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListInvitesByRun(ctx context.Context, tx *sql.Tx, runID string) ([]domain.ShareInvite, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+inviteColumns+` FROM share_invites WHERE run_id=? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	return collectInvites(rows)
}

// AcceptedPermissions returns the permissions of accepted invites on runID for email.
func (r Repo) AcceptedPermissions(ctx context.Context, tx *sql.Tx, runID, email string) ([]domain.Permission, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT permission FROM share_invites WHERE run_id=? AND email=? AND status='accepted'`, runID, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Permission
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListSharedRuns returns runs with an accepted invite for email that the
// (tenantID, userID) principal does not own.
func (r Repo) ListSharedRuns(ctx context.Context, email, tenantID, userID string) ([]domain.ValidationRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT `+runColumns+` FROM runs
JOIN share_invites si ON si.run_id=runs.id
WHERE si.email=? AND si.status='accepted' AND NOT (runs.tenant_id=? AND runs.user_id=?)
ORDER BY runs.created_at DESC, runs.id DESC`, email, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}
