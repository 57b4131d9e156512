// Package sender broadcasts signed transactions and keeps re-broadcasting
// them until they land, fail, or their blockhash expires.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/rescuer/service/metrics"
	"github.com/brojonat/rescuer/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrTransactionExpired is returned when the blockhash expires before the transaction lands.
	ErrTransactionExpired = errors.New("transaction expired before confirmation")
	// ErrTransactionFailed is returned when the transaction landed with an error.
	ErrTransactionFailed = errors.New("transaction failed on chain")
)

// Status is the final state of a broadcast.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFinalized Status = "finalized"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// RPC is the subset of the Solana client the resend loop needs.
type RPC interface {
	Send(ctx context.Context, raw []byte, skipPreflight bool) (solanago.Signature, error)
	SignatureStatuses(ctx context.Context, signatures ...solanago.Signature) ([]solana.SignatureStatus, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// Config tunes the resend loop.
type Config struct {
	ResendInterval time.Duration
	PollInterval   time.Duration
	// Commitment is the level at which a transaction counts as landed:
	// rpc.CommitmentConfirmed or rpc.CommitmentFinalized.
	Commitment    rpc.CommitmentType
	SkipPreflight bool
}

// DefaultConfig returns the settings used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		ResendInterval: 2 * time.Second,
		PollInterval:   time.Second,
		Commitment:     rpc.CommitmentConfirmed,
	}
}

// Result describes how a broadcast ended.
type Result struct {
	Signature solanago.Signature `json:"signature"`
	Status    Status             `json:"status"`
	Slot      uint64             `json:"slot,omitempty"`
	Err       interface{}        `json:"err,omitempty"`
	Attempts  int                `json:"attempts"`
}

// Sender runs the broadcast loop.
type Sender struct {
	rpc     RPC
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSender creates a Sender. Zero fields of cfg take their DefaultConfig values.
func NewSender(r RPC, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Sender {
	def := DefaultConfig()
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = def.ResendInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{rpc: r, cfg: cfg, metrics: m, logger: logger}
}

// SendAndConfirm broadcasts raw and re-broadcasts the same bytes every
// ResendInterval while polling for its status. It returns once the
// transaction reaches the configured commitment, fails on chain, outlives
// lastValidBlockHeight (if non-zero), or ctx is done.
//
// The returned Result is non-nil whenever the transaction was sent at least once.
func (s *Sender) SendAndConfirm(ctx context.Context, raw []byte, lastValidBlockHeight uint64) (*Result, error) {
	start := time.Now()

	sig, err := s.rpc.Send(ctx, raw, s.cfg.SkipPreflight)
	if err != nil {
		s.record("rejected", 1, start)
		return nil, err
	}
	res := &Result{Signature: sig, Attempts: 1}
	s.logger.InfoContext(ctx, "broadcast transaction",
		"signature", sig.String(),
		"last_valid_block_height", lastValidBlockHeight,
	)

	resend := time.NewTicker(s.cfg.ResendInterval)
	defer resend.Stop()
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			res.Status = StatusCancelled
			s.record(string(res.Status), res.Attempts, start)
			return res, ctx.Err()

		case <-resend.C:
			// Preflight already passed on the first send.
			if _, err := s.rpc.Send(ctx, raw, true); err != nil {
				s.logger.WarnContext(ctx, "re-broadcast failed",
					"signature", sig.String(),
					"attempt", res.Attempts+1,
					"error", err,
				)
			}
			res.Attempts++

		case <-poll.C:
			done, err := s.check(ctx, res, lastValidBlockHeight)
			if !done {
				continue
			}
			s.record(string(res.Status), res.Attempts, start)
			s.logger.InfoContext(ctx, "broadcast finished",
				"signature", sig.String(),
				"status", res.Status,
				"attempts", res.Attempts,
				"slot", res.Slot,
			)
			return res, err
		}
	}
}

// check polls the signature once and reports whether the loop is over.
func (s *Sender) check(ctx context.Context, res *Result, lastValidBlockHeight uint64) (bool, error) {
	statuses, err := s.rpc.SignatureStatuses(ctx, res.Signature)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to poll signature status",
			"signature", res.Signature.String(),
			"error", err,
		)
		return false, nil
	}

	if len(statuses) > 0 && statuses[0].Found {
		st := statuses[0]
		res.Slot = st.Slot
		if st.Err != nil {
			res.Status = StatusFailed
			res.Err = st.Err
			return true, fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
		}
		if reached(st.ConfirmationStatus, s.cfg.Commitment) {
			res.Status = Status(st.ConfirmationStatus)
			if res.Status != StatusFinalized {
				res.Status = StatusConfirmed
			}
			return true, nil
		}
		// Seen but not yet at the target commitment; it cannot expire now.
		return false, nil
	}

	if lastValidBlockHeight == 0 {
		return false, nil
	}
	height, err := s.rpc.BlockHeight(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to get block height", "error", err)
		return false, nil
	}
	if height > lastValidBlockHeight {
		res.Status = StatusExpired
		return true, fmt.Errorf("%w: block height %d passed %d", ErrTransactionExpired, height, lastValidBlockHeight)
	}
	return false, nil
}

func reached(status string, target rpc.CommitmentType) bool {
	switch rpc.ConfirmationStatusType(status) {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return target != rpc.CommitmentFinalized
	default:
		return false
	}
}

func (s *Sender) record(status string, attempts int, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordBroadcast(status, attempts, time.Since(start).Seconds())
	}
}
