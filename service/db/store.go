package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/rescuer/service/db/dbgen"
	"github.com/brojonat/rescuer/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/schema.sql
var schema string

// ErrNotFound is returned when a rescue does not exist.
var ErrNotFound = errors.New("rescue not found")

// Store provides database operations for the service.
// It wraps the dbgen queries with domain types.
type Store struct {
	pool    *pgxpool.Pool
	q       *dbgen.Queries
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		q:    dbgen.New(pool),
	}
}

// WithMetrics records query durations on m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Migrate creates the rescues table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Rescue is one journaled broadcast of a recovery transaction.
type Rescue struct {
	Signature         string    `json:"signature"`
	Network           string    `json:"network"`
	Kind              string    `json:"kind"`
	CompromisedWallet string    `json:"compromised_wallet"`
	SafeWallet        string    `json:"safe_wallet"`
	Status            string    `json:"status"`
	Slot              *uint64   `json:"slot,omitempty"`
	Attempts          int       `json:"attempts"`
	Error             *string   `json:"error,omitempty"`
	WorkflowID        *string   `json:"workflow_id,omitempty"`
	FeeLamports       uint64    `json:"fee_lamports"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RecordRescueParams contains the parameters for journaling a rescue.
type RecordRescueParams struct {
	Signature         string
	Network           string
	Kind              string
	CompromisedWallet string
	SafeWallet        string
	Status            string
	Slot              *uint64
	Attempts          int
	Error             *string
	WorkflowID        *string
	FeeLamports       uint64
}

// ListRescuesParams contains pagination parameters.
type ListRescuesParams struct {
	Wallet  string
	Network string
	Limit   int32
	Offset  int32
}

// RecordRescue inserts a rescue, or updates its status, slot, attempts and
// error if the signature was already journaled on this network.
func (s *Store) RecordRescue(ctx context.Context, params RecordRescueParams) (*Rescue, error) {
	start := time.Now()
	result, err := s.q.UpsertRescue(ctx, dbgen.UpsertRescueParams{
		Signature:         params.Signature,
		Network:           params.Network,
		Kind:              params.Kind,
		CompromisedWallet: params.CompromisedWallet,
		SafeWallet:        params.SafeWallet,
		Status:            params.Status,
		Slot:              pgint8FromUint64Ptr(params.Slot),
		Attempts:          int32(params.Attempts),
		Error:             pgtextFromStringPtr(params.Error),
		WorkflowID:        pgtextFromStringPtr(params.WorkflowID),
		FeeLamports:       int64(params.FeeLamports),
	})
	s.record("upsert", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to record rescue: %w", err)
	}
	return dbRescueToDomain(&result), nil
}

// GetRescue retrieves a rescue by its signature and network.
func (s *Store) GetRescue(ctx context.Context, signature, network string) (*Rescue, error) {
	start := time.Now()
	result, err := s.q.GetRescue(ctx, dbgen.GetRescueParams{
		Signature: signature,
		Network:   network,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("get", start, nil)
		return nil, ErrNotFound
	}
	s.record("get", start, err)
	if err != nil {
		return nil, err
	}
	return dbRescueToDomain(&result), nil
}

// ListRescuesByWallet lists rescues where the wallet was either the
// compromised or the safe side, most recent first.
func (s *Store) ListRescuesByWallet(ctx context.Context, params ListRescuesParams) ([]*Rescue, error) {
	start := time.Now()
	results, err := s.q.ListRescuesByWallet(ctx, dbgen.ListRescuesByWalletParams{
		Wallet:  params.Wallet,
		Network: params.Network,
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
	s.record("list", start, err)
	if err != nil {
		return nil, err
	}
	return dbRescuesToDomain(results), nil
}

// ListRecentRescues lists the latest rescues on a network.
func (s *Store) ListRecentRescues(ctx context.Context, network string, limit int32) ([]*Rescue, error) {
	start := time.Now()
	results, err := s.q.ListRecentRescues(ctx, network, limit)
	s.record("list", start, err)
	if err != nil {
		return nil, err
	}
	return dbRescuesToDomain(results), nil
}

// CountRescuesByWallet counts rescues involving a wallet.
func (s *Store) CountRescuesByWallet(ctx context.Context, wallet, network string) (int64, error) {
	start := time.Now()
	count, err := s.q.CountRescuesByWallet(ctx, wallet, network)
	s.record("count", start, err)
	return count, err
}

// DeleteRescuesOlderThan deletes rescues created before the given time.
func (s *Store) DeleteRescuesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	n, err := s.q.DeleteRescuesOlderThan(ctx, pgtype.Timestamptz{Time: before, Valid: true})
	s.record("delete", start, err)
	return n, err
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "rescues", time.Since(start).Seconds(), err)
	}
}

// Helper functions to convert between dbgen types and domain types

func dbRescueToDomain(db *dbgen.Rescue) *Rescue {
	return &Rescue{
		Signature:         db.Signature,
		Network:           db.Network,
		Kind:              db.Kind,
		CompromisedWallet: db.CompromisedWallet,
		SafeWallet:        db.SafeWallet,
		Status:            db.Status,
		Slot:              uint64PtrFromPgint8(db.Slot),
		Attempts:          int(db.Attempts),
		Error:             stringPtrFromPgtext(db.Error),
		WorkflowID:        stringPtrFromPgtext(db.WorkflowID),
		FeeLamports:       uint64(db.FeeLamports),
		CreatedAt:         db.CreatedAt.Time,
		UpdatedAt:         db.UpdatedAt.Time,
	}
}

func dbRescuesToDomain(results []dbgen.Rescue) []*Rescue {
	rescues := make([]*Rescue, len(results))
	for i := range results {
		rescues[i] = dbRescueToDomain(&results[i])
	}
	return rescues
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromUint64Ptr(v *uint64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: int64(*v), Valid: true}
}

func uint64PtrFromPgint8(v pgtype.Int8) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}
