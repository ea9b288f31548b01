package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"tnxgate/internal/domain"
)

// HashSecret returns the SHA-256 hex digest stored in place of a key secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

const botColumns = `id,tenant_id,owner_user_id,name,status,registration_path,COALESCE(trial_expires_at,''),created_at`

func scanBot(s scanner) (domain.Bot, error) {
	var b domain.Bot
	err := s.Scan(&b.ID, &b.TenantID, &b.OwnerUserID, &b.Name, &b.Status, &b.RegistrationPath, &b.TrialExpiresAt, &b.CreatedAt)
	return b, err
}

func (r Repo) InsertBot(ctx context.Context, tx *sql.Tx, b domain.Bot) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO bots(id,tenant_id,owner_user_id,name,status,registration_path,trial_expires_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.TenantID, b.OwnerUserID, b.Name, b.Status, b.RegistrationPath, nullable(b.TrialExpiresAt), b.CreatedAt)
	return err
}

func (r Repo) GetBot(ctx context.Context, tx *sql.Tx, id string) (domain.Bot, error) {
	b, err := scanBot(r.q(tx).QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id=?`, id))
	if err != nil {
		return b, notFound(err, "bot", id)
	}
	return b, nil
}

func (r Repo) UpdateBotStatus(ctx context.Context, tx *sql.Tx, id string, status domain.BotStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE bots SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: bot %s", ErrNotFound, id)
	}
	return nil
}

func (r Repo) ListBotsByOwner(ctx context.Context, tenantID, ownerUserID string) ([]domain.Bot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+botColumns+` FROM bots WHERE tenant_id=? AND owner_user_id=? ORDER BY created_at ASC`, tenantID, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

const keyColumns = `id,bot_id,key_prefix,key_hash,status,created_at,COALESCE(revoked_at,'')`

func scanKey(s scanner) (domain.BotAPIKey, error) {
	var k domain.BotAPIKey
	err := s.Scan(&k.ID, &k.BotID, &k.KeyPrefix, &k.KeyHash, &k.Status, &k.CreatedAt, &k.RevokedAt)
	return k, err
}

// InsertBotKey stores key metadata. KeyHash must already contain the hashed secret.
func (r Repo) InsertBotKey(ctx context.Context, tx *sql.Tx, k domain.BotAPIKey) error {
	if k.KeyHash == "" {
		return errors.New("key_hash required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO bot_api_keys(id,bot_id,key_prefix,key_hash,status,created_at,revoked_at) VALUES (?,?,?,?,?,?,?)`,
		k.ID, k.BotID, k.KeyPrefix, k.KeyHash, k.Status, k.CreatedAt, nullable(k.RevokedAt))
	return err
}

func (r Repo) GetBotKey(ctx context.Context, tx *sql.Tx, id string) (domain.BotAPIKey, error) {
	k, err := scanKey(r.q(tx).QueryRowContext(ctx, `SELECT `+keyColumns+` FROM bot_api_keys WHERE id=?`, id))
	if err != nil {
		return k, notFound(err, "bot key", id)
	}
	return k, nil
}

// ActiveBotKey returns the active key for a bot, if any.
func (r Repo) ActiveBotKey(ctx context.Context, tx *sql.Tx, botID string) (domain.BotAPIKey, error) {
	k, err := scanKey(r.q(tx).QueryRowContext(ctx, `SELECT `+keyColumns+` FROM bot_api_keys WHERE bot_id=? AND status='active'`, botID))
	if err != nil {
		return k, notFound(err, "active key for bot", botID)
	}
	return k, nil
}

// SetBotKeyStatus transitions a key; revokedAt is written only when non-empty.
func (r Repo) SetBotKeyStatus(ctx context.Context, tx *sql.Tx, id string, status domain.BotKeyStatus, revokedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE bot_api_keys SET status=?,revoked_at=COALESCE(?,revoked_at) WHERE id=?`, status, nullable(revokedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: bot key %s", ErrNotFound, id)
	}
	return nil
}

// RevokeBotKeys revokes every non-revoked key of a bot.
func (r Repo) RevokeBotKeys(ctx context.Context, tx *sql.Tx, botID, revokedAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE bot_api_keys SET status='revoked',revoked_at=? WHERE bot_id=? AND status<>'revoked'`, revokedAt, botID)
	return err
}

func (r Repo) ListBotKeys(ctx context.Context, tx *sql.Tx, botID string) ([]domain.BotAPIKey, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+keyColumns+` FROM bot_api_keys WHERE bot_id=? ORDER BY created_at ASC, id ASC`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.BotAPIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// CountActiveBotKeys is used to assert the one-active-key invariant.
func (r Repo) CountActiveBotKeys(ctx context.Context, botID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bot_api_keys WHERE bot_id=? AND status='active'`, botID).Scan(&n)
	return n, err
}

// GetBotKeyByHash looks a key up by the digest of its secret.
func (r Repo) GetBotKeyByHash(ctx context.Context, hash string) (domain.BotAPIKey, error) {
	k, err := scanKey(r.DB.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM bot_api_keys WHERE key_hash=?`, hash))
	if err != nil {
		return k, notFound(err, "bot key", "by hash")
	}
	return k, nil
}
