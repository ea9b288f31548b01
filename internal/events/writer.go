package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tnxgate/internal/domain"
)

// Event types written to the audit log.
const (
	RunCreated        = "run.created"
	RunStarted        = "run.started"
	RunCompleted      = "run.completed"
	RunFailed         = "run.failed"
	TraderRequested   = "review.requested"
	DecisionSubmitted = "review.decision"
	CommentAdded      = "review.comment"
	RenderRequested   = "render.requested"
	InviteCreated     = "invite.created"
	InviteAccepted    = "invite.accepted"
	InviteRevoked     = "invite.revoked"
	BotRegistered     = "bot.registered"
	BotRevoked        = "bot.revoked"
	KeyIssued         = "bot_key.issued"
	KeyRotated        = "bot_key.rotated"
	KeyRevoked        = "bot_key.revoked"
	BaselineCreated   = "baseline.created"
	ReplayEvaluated   = "replay.evaluated"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside tx so it commits or rolls back with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, tenantID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,tenant_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		domain.FormatTime(now()), evtType, nullable(tenantID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
