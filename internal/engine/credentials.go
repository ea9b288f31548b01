package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/events"
	"tnxgate/internal/metrics"
	"tnxgate/internal/repo"
)

// KeyScheme prefixes every raw bot key: tnx.bot.<botId>.<keyId>.<secret>.
const KeyScheme = "tnx.bot."

const (
	defaultTrialDays = 14
	secretBytes      = 32
)

// IssuedKey carries the raw key exactly once, at issue or rotation time.
type IssuedKey struct {
	RawKey string           `json:"rawKey"`
	Key    domain.BotAPIKey `json:"key"`
}

// RegisterBotRequest are the caller-supplied bot fields.
type RegisterBotRequest struct {
	Name             string                  `json:"name" validate:"required,max=128"`
	RegistrationPath domain.RegistrationPath `json:"registrationPath" validate:"required"`
	InviteCode       string                  `json:"inviteCode,omitempty"`
}

// RegisterBot creates a bot owned by the calling user.
func (e Engine) RegisterBot(ctx context.Context, p auth.Principal, req RegisterBotRequest) (domain.Bot, error) {
	if p.IsBot() || p.UserID == "" {
		return domain.Bot{}, auth.ForbiddenError{Permission: "user"}
	}
	if err := validate.Struct(req); err != nil {
		return domain.Bot{}, validationError(domain.ErrInvalidInput, err)
	}
	if !req.RegistrationPath.Valid() {
		return domain.Bot{}, fmt.Errorf("%w: unknown registrationPath %q", domain.ErrInvalidInput, req.RegistrationPath)
	}
	now := e.now()
	bot := domain.Bot{
		ID:               newID("bot"),
		TenantID:         p.TenantID,
		OwnerUserID:      p.UserID,
		Name:             strings.TrimSpace(req.Name),
		Status:           domain.BotActive,
		RegistrationPath: req.RegistrationPath,
		CreatedAt:        domain.FormatTime(now),
	}
	switch req.RegistrationPath {
	case domain.RegistrationInviteCodeTrial:
		if !e.Config.InviteCodeValid(req.InviteCode) {
			return domain.Bot{}, fmt.Errorf("%w: invite code not accepted", domain.ErrForbidden)
		}
		days := e.Config.Bots.TrialDays
		if days <= 0 {
			days = defaultTrialDays
		}
		bot.TrialExpiresAt = domain.FormatTime(now.Add(time.Duration(days) * 24 * time.Hour))
	case domain.RegistrationPartnerBootstrap:
		if !p.HasRole(auth.RolePartner) {
			return domain.Bot{}, auth.ForbiddenError{Permission: auth.RolePartner}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bot{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBot(ctx, tx, bot); err != nil {
		return bot, fmt.Errorf("insert bot: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.BotRegistered, bot.TenantID, "bot", bot.ID, p.ActorID(), events.EventPayload{
		"registrationPath": string(bot.RegistrationPath),
	}); err != nil {
		return bot, err
	}
	if err := tx.Commit(); err != nil {
		return bot, err
	}
	e.Log.WithField("bot_id", bot.ID).WithField("tenant_id", bot.TenantID).Info("Bot registered")
	return bot, nil
}

// ownedBot loads a bot the caller owns. Bots of other users are not found.
func (e Engine) ownedBot(ctx context.Context, tx *sql.Tx, p auth.Principal, botID string) (domain.Bot, error) {
	if p.IsBot() {
		return domain.Bot{}, auth.ForbiddenError{Permission: "user"}
	}
	bot, err := e.Repo.GetBot(ctx, tx, botID)
	if err != nil {
		return bot, err
	}
	if bot.TenantID != p.TenantID || bot.OwnerUserID != p.UserID {
		return domain.Bot{}, fmt.Errorf("%w: bot %s", domain.ErrNotFound, botID)
	}
	return bot, nil
}

// ListBots returns the caller's bots.
func (e Engine) ListBots(ctx context.Context, p auth.Principal) ([]domain.Bot, error) {
	bots, err := e.Repo.ListBotsByOwner(ctx, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}
	if bots == nil {
		bots = []domain.Bot{}
	}
	return bots, nil
}

// IssueKey creates the bot's first active key. It conflicts when one exists.
func (e Engine) IssueKey(ctx context.Context, p auth.Principal, botID string) (IssuedKey, error) {
	unlock := e.lock("bot:" + botID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IssuedKey{}, err
	}
	defer tx.Rollback()
	bot, err := e.ownedBot(ctx, tx, p, botID)
	if err != nil {
		return IssuedKey{}, err
	}
	if bot.Status != domain.BotActive {
		return IssuedKey{}, fmt.Errorf("%w: bot %s is %s", domain.ErrInvalidState, bot.ID, bot.Status)
	}
	active, err := e.Repo.ActiveBotKey(ctx, tx, bot.ID)
	switch {
	case err == nil:
		return IssuedKey{}, fmt.Errorf("%w: bot %s already has active key %s", domain.ErrConflict, bot.ID, active.ID)
	case !errors.Is(err, domain.ErrNotFound):
		return IssuedKey{}, err
	}
	issued, err := e.issueKey(ctx, tx, bot)
	if err != nil {
		return IssuedKey{}, err
	}
	if err := e.events().Append(ctx, tx, events.KeyIssued, bot.TenantID, "bot_key", issued.Key.ID, p.ActorID(), events.EventPayload{
		"botId":     bot.ID,
		"keyPrefix": issued.Key.KeyPrefix,
	}); err != nil {
		return IssuedKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return IssuedKey{}, err
	}
	metrics.RecordBotKeyEvent("issued")
	e.Audit.LogKeyEvent(events.KeyIssued, bot.ID, issued.Key.ID, issued.Key.KeyPrefix)
	return issued, nil
}

// RotateKey demotes the active key to rotated and issues a replacement in one
// transaction. Without an active key it behaves like IssueKey.
func (e Engine) RotateKey(ctx context.Context, p auth.Principal, botID string) (IssuedKey, error) {
	unlock := e.lock("bot:" + botID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IssuedKey{}, err
	}
	defer tx.Rollback()
	bot, err := e.ownedBot(ctx, tx, p, botID)
	if err != nil {
		return IssuedKey{}, err
	}
	if bot.Status != domain.BotActive {
		return IssuedKey{}, fmt.Errorf("%w: bot %s is %s", domain.ErrInvalidState, bot.ID, bot.Status)
	}
	payload := events.EventPayload{"botId": bot.ID}
	evt := events.KeyIssued
	active, err := e.Repo.ActiveBotKey(ctx, tx, bot.ID)
	switch {
	case err == nil:
		if err := e.Repo.SetBotKeyStatus(ctx, tx, active.ID, domain.KeyRotated, e.stamp()); err != nil {
			return IssuedKey{}, err
		}
		payload["previousKeyId"] = active.ID
		evt = events.KeyRotated
	case !errors.Is(err, domain.ErrNotFound):
		return IssuedKey{}, err
	}
	issued, err := e.issueKey(ctx, tx, bot)
	if err != nil {
		return IssuedKey{}, err
	}
	payload["keyPrefix"] = issued.Key.KeyPrefix
	if err := e.events().Append(ctx, tx, evt, bot.TenantID, "bot_key", issued.Key.ID, p.ActorID(), payload); err != nil {
		return IssuedKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return IssuedKey{}, err
	}
	metrics.RecordBotKeyEvent(strings.TrimPrefix(evt, "bot_key."))
	e.Audit.LogKeyEvent(evt, bot.ID, issued.Key.ID, issued.Key.KeyPrefix)
	return issued, nil
}

// issueKey generates and stores a new active key. Only the secret's digest is persisted.
func (e Engine) issueKey(ctx context.Context, tx *sql.Tx, bot domain.Bot) (IssuedKey, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return IssuedKey{}, fmt.Errorf("generate key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	keyID := newID("key")
	prefix := KeyScheme + bot.ID + "." + keyID
	key := domain.BotAPIKey{
		ID:        keyID,
		BotID:     bot.ID,
		KeyPrefix: prefix,
		Status:    domain.KeyActive,
		KeyHash:   repo.HashSecret(secret),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertBotKey(ctx, tx, key); err != nil {
		return IssuedKey{}, fmt.Errorf("insert bot key %s: %w", keyID, err)
	}
	return IssuedKey{RawKey: prefix + "." + secret, Key: key}, nil
}

// RevokeKey revokes one key. Revoking a revoked key is a no-op.
func (e Engine) RevokeKey(ctx context.Context, p auth.Principal, keyID string) (domain.BotAPIKey, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.BotAPIKey{}, err
	}
	defer tx.Rollback()
	key, err := e.Repo.GetBotKey(ctx, tx, keyID)
	if err != nil {
		return key, err
	}
	bot, err := e.ownedBot(ctx, tx, p, key.BotID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BotAPIKey{}, fmt.Errorf("%w: bot key %s", domain.ErrNotFound, keyID)
		}
		return domain.BotAPIKey{}, err
	}
	if key.Status == domain.KeyRevoked {
		return key, nil
	}
	key.Status = domain.KeyRevoked
	key.RevokedAt = e.stamp()
	if err := e.Repo.SetBotKeyStatus(ctx, tx, key.ID, key.Status, key.RevokedAt); err != nil {
		return key, err
	}
	if err := e.events().Append(ctx, tx, events.KeyRevoked, bot.TenantID, "bot_key", key.ID, p.ActorID(), events.EventPayload{"botId": bot.ID}); err != nil {
		return key, err
	}
	if err := tx.Commit(); err != nil {
		return key, err
	}
	metrics.RecordBotKeyEvent("revoked")
	e.Audit.LogKeyEvent(events.KeyRevoked, bot.ID, key.ID, key.KeyPrefix)
	return key, nil
}

// RevokeBot disables a bot and revokes all of its keys.
func (e Engine) RevokeBot(ctx context.Context, p auth.Principal, botID string) (domain.Bot, error) {
	unlock := e.lock("bot:" + botID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bot{}, err
	}
	defer tx.Rollback()
	bot, err := e.ownedBot(ctx, tx, p, botID)
	if err != nil {
		return bot, err
	}
	if bot.Status == domain.BotRevoked {
		return bot, nil
	}
	now := e.stamp()
	if err := e.Repo.UpdateBotStatus(ctx, tx, bot.ID, domain.BotRevoked); err != nil {
		return bot, err
	}
	if err := e.Repo.RevokeBotKeys(ctx, tx, bot.ID, now); err != nil {
		return bot, err
	}
	bot.Status = domain.BotRevoked
	if err := e.events().Append(ctx, tx, events.BotRevoked, bot.TenantID, "bot", bot.ID, p.ActorID(), nil); err != nil {
		return bot, err
	}
	if err := tx.Commit(); err != nil {
		return bot, err
	}
	e.Audit.LogKeyEvent(events.BotRevoked, bot.ID, "", "")
	return bot, nil
}

// ListKeys returns key metadata for a bot the caller owns.
func (e Engine) ListKeys(ctx context.Context, p auth.Principal, botID string) ([]domain.BotAPIKey, error) {
	if _, err := e.ownedBot(ctx, nil, p, botID); err != nil {
		return nil, err
	}
	return e.Repo.ListBotKeys(ctx, nil, botID)
}

var errInvalidKey = fmt.Errorf("%w: invalid bot key", domain.ErrUnauthorized)

// VerifyKey authenticates a raw bot key. Only active keys of active,
// unexpired bots pass. Errors never include the presented key.
func (e Engine) VerifyKey(ctx context.Context, raw string) (auth.Principal, error) {
	botID, keyID, secret, ok := parseKey(raw)
	if !ok {
		return auth.Principal{}, errInvalidKey
	}
	key, err := e.Repo.GetBotKeyByHash(ctx, repo.HashSecret(secret))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return auth.Principal{}, errInvalidKey
		}
		return auth.Principal{}, fmt.Errorf("look up bot key: %w", err)
	}
	if key.ID != keyID || key.BotID != botID || key.Status != domain.KeyActive {
		return auth.Principal{}, errInvalidKey
	}
	bot, err := e.Repo.GetBot(ctx, nil, botID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return auth.Principal{}, errInvalidKey
		}
		return auth.Principal{}, err
	}
	if bot.Status != domain.BotActive {
		return auth.Principal{}, errInvalidKey
	}
	if bot.TrialExpiresAt != "" {
		exp, err := domain.ParseTime(bot.TrialExpiresAt)
		if err != nil || !e.now().Before(exp) {
			return auth.Principal{}, fmt.Errorf("%w: bot trial expired", domain.ErrUnauthorized)
		}
	}
	return auth.Principal{
		UserID:   bot.OwnerUserID,
		TenantID: bot.TenantID,
		BotID:    bot.ID,
		KeyID:    key.ID,
		Source:   "bot_key",
	}, nil
}

func parseKey(raw string) (botID, keyID, secret string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(raw), KeyScheme)
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
