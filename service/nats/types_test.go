package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/rescuer/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDBRescue(t *testing.T) {
	slot := uint64(777)
	wf := "broadcast-abc"
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rescue := &db.Rescue{
		Signature:         "abc",
		Network:           "mainnet-beta",
		Kind:              "sweep_token",
		CompromisedWallet: "bad123",
		SafeWallet:        "safe123",
		Status:            "confirmed",
		Slot:              &slot,
		Attempts:          3,
		WorkflowID:        &wf,
		FeeLamports:       15_000,
		UpdatedAt:         updated,
	}

	event := FromDBRescue(rescue)

	assert.Equal(t, "abc", event.Signature)
	assert.Equal(t, "bad123", event.CompromisedWallet)
	assert.Equal(t, "safe123", event.SafeWallet)
	assert.Equal(t, "confirmed", event.Status)
	require.NotNil(t, event.Slot)
	assert.Equal(t, uint64(777), *event.Slot)
	assert.Equal(t, 3, event.Attempts)
	assert.Equal(t, uint64(15_000), event.FeeLamports)
	assert.Equal(t, updated, event.Timestamp)
	assert.WithinDuration(t, time.Now(), event.PublishedAt, 5*time.Second)
	assert.Equal(t, "rescues.bad123", Subject(event.CompromisedWallet))
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	confirmed := &RescueEvent{Signature: "a", Network: "devnet", Status: "confirmed", CompromisedWallet: "bad"}
	require.NoError(t, m.PublishRescue(ctx, confirmed))
	require.NoError(t, m.PublishRescue(ctx, &RescueEvent{Signature: "b", Network: "devnet", Status: "finalized", CompromisedWallet: "other"}))

	t.Run("routes by compromised wallet", func(t *testing.T) {
		assert.Equal(t, []*RescueEvent{confirmed}, m.Published(Subject("bad")))
		assert.Len(t, m.Published(Subject("other")), 1)
		assert.Empty(t, m.Published(Subject("nobody")))
		assert.Len(t, m.Published(StreamSubjects), 2)
	})

	t.Run("duplicate message ids are dropped", func(t *testing.T) {
		require.NoError(t, m.PublishRescue(ctx, &RescueEvent{Signature: "a", Network: "devnet", Status: "confirmed", CompromisedWallet: "bad"}))
		assert.Equal(t, 2, m.Count())

		require.NoError(t, m.PublishRescue(ctx, &RescueEvent{Signature: "a", Network: "devnet", Status: "finalized", CompromisedWallet: "bad"}))
		assert.Equal(t, 3, m.Count())
	})

	t.Run("failures", func(t *testing.T) {
		m.FailWith(errors.New("nats down"))
		assert.Error(t, m.PublishRescue(ctx, &RescueEvent{Signature: "c"}))
		assert.Equal(t, 3, m.Count())
		m.FailWith(nil)
		assert.NoError(t, m.PublishRescue(ctx, &RescueEvent{Signature: "c"}))
	})

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}

func TestMsgID(t *testing.T) {
	assert.Equal(t, "sig:mainnet:finalized", msgID(&RescueEvent{Signature: "sig", Network: "mainnet", Status: "finalized"}))
}
