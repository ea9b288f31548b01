package repo

import (
	"context"
	"database/sql"

	"tnxgate/internal/domain"
)

// ReserveIdempotencyKey inserts an in-flight record. When the key already
// exists it returns the stored record and reserved=false.
func (r Repo) ReserveIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) (domain.IdempotencyRecord, bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO idempotency_keys(tenant_id,actor_id,endpoint,key,request_hash,status_code,response_body,created_at) VALUES (?,?,?,?,?,0,NULL,?)`,
		rec.TenantID, rec.ActorID, rec.Endpoint, rec.Key, rec.RequestHash, rec.CreatedAt)
	if err != nil {
		return rec, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return rec, true, nil
	}
	existing, err := r.GetIdempotencyRecord(ctx, rec)
	return existing, false, err
}

// GetIdempotencyRecord loads the record with the same tenant, actor, endpoint and key as id.
func (r Repo) GetIdempotencyRecord(ctx context.Context, id domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.DB.QueryRowContext(ctx, `SELECT tenant_id,actor_id,endpoint,key,request_hash,status_code,response_body,created_at FROM idempotency_keys WHERE tenant_id=? AND actor_id=? AND endpoint=? AND key=?`,
		id.TenantID, id.ActorID, id.Endpoint, id.Key).Scan(&rec.TenantID, &rec.ActorID, &rec.Endpoint, &rec.Key, &rec.RequestHash, &rec.StatusCode, &rec.ResponseBody, &rec.CreatedAt)
	if err != nil {
		return rec, notFound(err, "idempotency key", id.Key)
	}
	return rec, nil
}

// CompleteIdempotencyKey stores the final response for a reservation.
func (r Repo) CompleteIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord, status int, body []byte) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE idempotency_keys SET status_code=?,response_body=? WHERE tenant_id=? AND actor_id=? AND endpoint=? AND key=?`,
		status, body, rec.TenantID, rec.ActorID, rec.Endpoint, rec.Key)
	return err
}

// ReleaseIdempotencyKey drops a reservation so the request may be retried.
func (r Repo) ReleaseIdempotencyKey(ctx context.Context, rec domain.IdempotencyRecord) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE tenant_id=? AND actor_id=? AND endpoint=? AND key=?`,
		rec.TenantID, rec.ActorID, rec.Endpoint, rec.Key)
	return err
}

// PurgeIdempotencyKeys removes records created before cutoff.
func (r Repo) PurgeIdempotencyKeys(ctx context.Context, tx *sql.Tx, cutoff string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at<?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
