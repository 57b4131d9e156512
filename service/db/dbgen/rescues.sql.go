package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const rescueColumns = `signature, network, kind, compromised_wallet, safe_wallet, status, slot, attempts, error, workflow_id, fee_lamports, created_at, updated_at`

func scanRescue(row pgx.Row) (Rescue, error) {
	var i Rescue
	err := row.Scan(
		&i.Signature,
		&i.Network,
		&i.Kind,
		&i.CompromisedWallet,
		&i.SafeWallet,
		&i.Status,
		&i.Slot,
		&i.Attempts,
		&i.Error,
		&i.WorkflowID,
		&i.FeeLamports,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectRescues(rows pgx.Rows, err error) ([]Rescue, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Rescue
	for rows.Next() {
		i, err := scanRescue(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const upsertRescue = `-- name: UpsertRescue :one
INSERT INTO rescues (
    signature, network, kind, compromised_wallet, safe_wallet, status, slot, attempts, error, workflow_id, fee_lamports
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (signature, network) DO UPDATE SET
    status = EXCLUDED.status,
    slot = COALESCE(EXCLUDED.slot, rescues.slot),
    attempts = GREATEST(EXCLUDED.attempts, rescues.attempts),
    error = EXCLUDED.error,
    workflow_id = COALESCE(EXCLUDED.workflow_id, rescues.workflow_id),
    updated_at = now()
RETURNING ` + rescueColumns

type UpsertRescueParams struct {
	Signature         string
	Network           string
	Kind              string
	CompromisedWallet string
	SafeWallet        string
	Status            string
	Slot              pgtype.Int8
	Attempts          int32
	Error             pgtype.Text
	WorkflowID        pgtype.Text
	FeeLamports       int64
}

func (q *Queries) UpsertRescue(ctx context.Context, arg UpsertRescueParams) (Rescue, error) {
	return scanRescue(q.db.QueryRow(ctx, upsertRescue,
		arg.Signature,
		arg.Network,
		arg.Kind,
		arg.CompromisedWallet,
		arg.SafeWallet,
		arg.Status,
		arg.Slot,
		arg.Attempts,
		arg.Error,
		arg.WorkflowID,
		arg.FeeLamports,
	))
}

const getRescue = `-- name: GetRescue :one
SELECT ` + rescueColumns + ` FROM rescues
WHERE signature = $1 AND network = $2`

type GetRescueParams struct {
	Signature string
	Network   string
}

func (q *Queries) GetRescue(ctx context.Context, arg GetRescueParams) (Rescue, error) {
	return scanRescue(q.db.QueryRow(ctx, getRescue, arg.Signature, arg.Network))
}

const listRescuesByWallet = `-- name: ListRescuesByWallet :many
SELECT ` + rescueColumns + ` FROM rescues
WHERE (compromised_wallet = $1 OR safe_wallet = $1) AND network = $2
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

type ListRescuesByWalletParams struct {
	Wallet  string
	Network string
	Limit   int32
	Offset  int32
}

func (q *Queries) ListRescuesByWallet(ctx context.Context, arg ListRescuesByWalletParams) ([]Rescue, error) {
	return collectRescues(q.db.Query(ctx, listRescuesByWallet, arg.Wallet, arg.Network, arg.Limit, arg.Offset))
}

const listRecentRescues = `-- name: ListRecentRescues :many
SELECT ` + rescueColumns + ` FROM rescues
WHERE network = $1
ORDER BY created_at DESC
LIMIT $2`

func (q *Queries) ListRecentRescues(ctx context.Context, network string, limit int32) ([]Rescue, error) {
	return collectRescues(q.db.Query(ctx, listRecentRescues, network, limit))
}

const countRescuesByWallet = `-- name: CountRescuesByWallet :one
SELECT COUNT(*) FROM rescues
WHERE (compromised_wallet = $1 OR safe_wallet = $1) AND network = $2`

func (q *Queries) CountRescuesByWallet(ctx context.Context, wallet, network string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countRescuesByWallet, wallet, network).Scan(&count)
	return count, err
}

const deleteRescuesOlderThan = `-- name: DeleteRescuesOlderThan :execrows
DELETE FROM rescues WHERE created_at < $1`

func (q *Queries) DeleteRescuesOlderThan(ctx context.Context, before pgtype.Timestamptz) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteRescuesOlderThan, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
