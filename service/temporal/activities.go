package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/rescuer/service/db"
	"github.com/brojonat/rescuer/service/metrics"
	natspkg "github.com/brojonat/rescuer/service/nats"
	"github.com/brojonat/rescuer/service/sender"
	"github.com/brojonat/rescuer/service/simulate"
	"github.com/brojonat/rescuer/service/txcodec"
	solanago "github.com/gagliardetto/solana-go"
	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// BroadcastInput contains the input parameters for broadcasting a signed recovery transaction.
type BroadcastInput struct {
	Payload              string `json:"payload"` // signed transaction, base58 or base64
	Network              string `json:"network"`
	Kind                 string `json:"kind"` // recovery.Kind
	CompromisedWallet    string `json:"compromised_wallet"`
	SafeWallet           string `json:"safe_wallet"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
	FeeLamports          uint64 `json:"fee_lamports"`
	SkipSimulation       bool   `json:"skip_simulation"`
}

// BroadcastResult contains the result of a broadcast.
type BroadcastResult struct {
	Signature  string            `json:"signature"`
	Status     string            `json:"status"` // "rejected", "confirmed", "finalized", "failed", "expired"
	Slot       *uint64           `json:"slot,omitempty"`
	Attempts   int               `json:"attempts"`
	Simulation *SimulateTxResult `json:"simulation,omitempty"`
	Error      *string           `json:"error,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// SimulateTxInput contains parameters for the SimulateTransaction activity.
type SimulateTxInput struct {
	Payload string `json:"payload"`
}

// SimulateTxResult summarizes a dry run of the broadcast payload.
type SimulateTxResult struct {
	Signature       string             `json:"signature"`
	Succeeded       bool               `json:"succeeded"`
	ErrorKind       simulate.ErrorKind `json:"error_kind,omitempty"`
	Error           *string            `json:"error,omitempty"`
	UnitsConsumed   uint64             `json:"units_consumed"`
	ChangedAccounts int                `json:"changed_accounts"`
	Logs            []string           `json:"logs,omitempty"`
}

// SendTxInput contains parameters for the SendAndConfirm activity.
type SendTxInput struct {
	Payload              string `json:"payload"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// SendTxResult contains the outcome of the resend loop.
type SendTxResult struct {
	Signature string  `json:"signature"`
	Status    string  `json:"status"`
	Slot      *uint64 `json:"slot,omitempty"`
	Attempts  int     `json:"attempts"`
	Error     *string `json:"error,omitempty"`
}

// JournalInput contains parameters for the JournalRescue activity.
type JournalInput struct {
	Signature         string    `json:"signature"`
	Network           string    `json:"network"`
	Kind              string    `json:"kind"`
	CompromisedWallet string    `json:"compromised_wallet"`
	SafeWallet        string    `json:"safe_wallet"`
	Status            string    `json:"status"`
	Slot              *uint64   `json:"slot,omitempty"`
	Attempts          int       `json:"attempts"`
	Error             *string   `json:"error,omitempty"`
	WorkflowID        string    `json:"workflow_id"`
	FeeLamports       uint64    `json:"fee_lamports"`
	Publish           bool      `json:"publish"`
	StartedAt         time.Time `json:"started_at"`
}

// PruneInput contains parameters for the PruneRescues activity.
type PruneInput struct {
	Retention time.Duration `json:"retention"`
}

// PruneResult contains the number of journal rows removed.
type PruneResult struct {
	Deleted int64 `json:"deleted"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	RecordRescue(context.Context, db.RecordRescueParams) (*db.Rescue, error)
	DeleteRescuesOlderThan(context.Context, time.Time) (int64, error)
}

// DecoderInterface decodes broadcast payloads.
type DecoderInterface interface {
	Decode(ctx context.Context, payload string, feePayer solanago.PublicKey, defaultSigners []solanago.PublicKey) (*txcodec.DecodedTransaction, error)
}

// SimulatorInterface dry-runs a transaction and diffs the touched accounts.
type SimulatorInterface interface {
	Run(ctx context.Context, tx *solanago.Transaction, addresses []solanago.PublicKey) (*simulate.Result, error)
}

// SenderInterface runs the resend loop.
type SenderInterface interface {
	SendAndConfirm(ctx context.Context, raw []byte, lastValidBlockHeight uint64) (*sender.Result, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishRescue(ctx context.Context, event *natspkg.RescueEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	decoder   DecoderInterface
	simulator SimulatorInterface
	sender    SenderInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. publisher may be nil.
func NewActivities(
	store StoreInterface,
	decoder DecoderInterface,
	simulator SimulatorInterface,
	snd SenderInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		decoder:   decoder,
		simulator: simulator,
		sender:    snd,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) recordDuration(name string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(name, time.Since(start).Seconds())
	}
}

// parseSigned sniffs a payload and returns the signed transaction it holds.
// Bare messages cannot be broadcast, so they fail without retry.
func parseSigned(payload string) (*txcodec.Sniffed, *solanago.Transaction, error) {
	sniffed, err := txcodec.Sniff(payload)
	if err != nil {
		return nil, nil, temporalsdk.NewNonRetryableApplicationError("invalid payload", "InvalidPayload", err)
	}
	if sniffed.MessageOnly {
		return nil, nil, temporalsdk.NewNonRetryableApplicationError("payload is an unsigned message", "InvalidPayload", nil)
	}
	tx, err := solanago.TransactionFromBytes(sniffed.Raw)
	if err != nil {
		return nil, nil, temporalsdk.NewNonRetryableApplicationError("invalid transaction", "InvalidPayload", err)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		return nil, nil, temporalsdk.NewNonRetryableApplicationError("transaction is not signed by its fee payer", "InvalidPayload", nil)
	}
	return sniffed, tx, nil
}

// SimulateTransaction dry-runs the broadcast payload and reports how the
// writable accounts would change.
func (a *Activities) SimulateTransaction(ctx context.Context, input SimulateTxInput) (*SimulateTxResult, error) {
	start := time.Now()
	defer a.recordDuration("SimulateTransaction", start)

	_, tx, err := parseSigned(input.Payload)
	if err != nil {
		return nil, err
	}
	dt, err := a.decoder.Decode(ctx, input.Payload, solanago.PublicKey{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	res, err := a.simulator.Run(ctx, tx, dt.WritableAccounts())
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to simulate transaction", "error", err)
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}

	out := &SimulateTxResult{
		Signature:     tx.Signatures[0].String(),
		Succeeded:     res.Succeeded(),
		ErrorKind:     res.ErrorKind,
		UnitsConsumed: res.UnitsConsumed,
		Logs:          res.Logs,
	}
	for _, row := range res.Rows {
		if row.Changed() {
			out.ChangedAccounts++
		}
	}
	if !out.Succeeded {
		msg := errString(res.Err)
		out.Error = &msg
	}

	a.logger.InfoContext(ctx, "simulated transaction",
		"signature", out.Signature,
		"succeeded", out.Succeeded,
		"error_kind", out.ErrorKind,
		"units_consumed", out.UnitsConsumed,
		"changed_accounts", out.ChangedAccounts,
	)
	return out, nil
}

// SendAndConfirm broadcasts the payload and re-broadcasts it until it lands
// or expires. Landing with an error or expiring is a result, not an activity
// failure, so Temporal does not retry it.
func (a *Activities) SendAndConfirm(ctx context.Context, input SendTxInput) (*SendTxResult, error) {
	start := time.Now()
	defer a.recordDuration("SendAndConfirm", start)

	sniffed, tx, err := parseSigned(input.Payload)
	if err != nil {
		return nil, err
	}

	// Keep the activity alive while the resend loop waits.
	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, tx.Signatures[0].String())
			}
		}
	}()

	res, err := a.sender.SendAndConfirm(ctx, sniffed.Raw, input.LastValidBlockHeight)
	if res == nil {
		a.logger.ErrorContext(ctx, "transaction rejected", "error", err)
		if err == nil {
			err = fmt.Errorf("empty send result")
		}
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	out := &SendTxResult{
		Signature: res.Signature.String(),
		Status:    string(res.Status),
		Attempts:  res.Attempts,
	}
	if res.Slot > 0 {
		slot := res.Slot
		out.Slot = &slot
	}
	switch res.Status {
	case sender.StatusCancelled:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("resend loop cancelled: %w", err)
		}
		// The sender's own confirm deadline ran out while the activity is
		// still live: nothing landed in time.
		out.Status = string(sender.StatusExpired)
		msg := "not confirmed before the confirm timeout: " + errString(err)
		out.Error = &msg
	case sender.StatusFailed:
		msg := errString(res.Err)
		out.Error = &msg
	case sender.StatusExpired:
		msg := errString(err)
		out.Error = &msg
	}

	a.logger.InfoContext(ctx, "broadcast finished",
		"signature", out.Signature,
		"status", out.Status,
		"attempts", out.Attempts,
	)
	return out, nil
}

// JournalRescue writes the rescue to the database and, when asked, publishes
// it to NATS. Publishing is best-effort.
func (a *Activities) JournalRescue(ctx context.Context, input JournalInput) (*db.Rescue, error) {
	start := time.Now()
	defer a.recordDuration("JournalRescue", start)

	params := db.RecordRescueParams{
		Signature:         input.Signature,
		Network:           input.Network,
		Kind:              input.Kind,
		CompromisedWallet: input.CompromisedWallet,
		SafeWallet:        input.SafeWallet,
		Status:            input.Status,
		Slot:              input.Slot,
		Attempts:          input.Attempts,
		Error:             input.Error,
		FeeLamports:       input.FeeLamports,
	}
	if input.WorkflowID != "" {
		wf := input.WorkflowID
		params.WorkflowID = &wf
	}

	rescue, err := a.store.RecordRescue(ctx, params)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to journal rescue",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to journal rescue: %w", err)
	}

	if input.Publish && a.metrics != nil && !input.StartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(input.Kind, input.Status, time.Since(input.StartedAt).Seconds())
	}
	if input.Publish && a.publisher != nil {
		if err := a.publisher.PublishRescue(ctx, natspkg.FromDBRescue(rescue)); err != nil {
			// The journal is the source of truth; NATS publish is best-effort.
			a.logger.ErrorContext(ctx, "failed to publish rescue to NATS",
				"signature", input.Signature,
				"error", err,
			)
		}
	}

	a.logger.DebugContext(ctx, "journaled rescue",
		"signature", input.Signature,
		"status", input.Status,
	)
	return rescue, nil
}

// PruneRescues deletes journal rows older than the retention window.
func (a *Activities) PruneRescues(ctx context.Context, input PruneInput) (*PruneResult, error) {
	start := time.Now()
	defer a.recordDuration("PruneRescues", start)

	deleted, err := a.store.DeleteRescuesOlderThan(ctx, time.Now().Add(-input.Retention))
	if err != nil {
		return nil, fmt.Errorf("failed to prune rescues: %w", err)
	}
	a.logger.InfoContext(ctx, "pruned rescues", "deleted", deleted, "retention", input.Retention)
	return &PruneResult{Deleted: deleted}, nil
}

// errString renders an RPC error value (string, map or nil) as text.
func errString(v interface{}) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case error:
		return e.Error()
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}
