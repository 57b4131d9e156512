package nats

import (
	"time"

	"github.com/brojonat/rescuer/service/db"
)

// RescueEvent represents a finished broadcast published to NATS.
// This is published to the subject "rescues.{compromised_wallet}" in JetStream.
type RescueEvent struct {
	// Transaction identifiers
	Signature string  `json:"signature"`
	Network   string  `json:"network"`
	Slot      *uint64 `json:"slot,omitempty"`

	// Wallet information
	CompromisedWallet string `json:"compromised_wallet"`
	SafeWallet        string `json:"safe_wallet"`

	// Rescue details
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	Error       *string `json:"error,omitempty"`
	FeeLamports uint64  `json:"fee_lamports"`
	WorkflowID  *string `json:"workflow_id,omitempty"`

	// Timing information
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// FromDBRescue converts a journaled rescue to a RescueEvent for publishing.
func FromDBRescue(r *db.Rescue) *RescueEvent {
	return &RescueEvent{
		Signature:         r.Signature,
		Network:           r.Network,
		Slot:              r.Slot,
		CompromisedWallet: r.CompromisedWallet,
		SafeWallet:        r.SafeWallet,
		Kind:              r.Kind,
		Status:            r.Status,
		Attempts:          r.Attempts,
		Error:             r.Error,
		FeeLamports:       r.FeeLamports,
		WorkflowID:        r.WorkflowID,
		Timestamp:         r.UpdatedAt,
		PublishedAt:       time.Now().UTC(),
	}
}

// Subject is the subject a rescue event for wallet is published on.
func Subject(wallet string) string {
	return "rescues." + wallet
}
