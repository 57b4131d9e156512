package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/brojonat/rescuer/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

const testSig = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

func newBroadcastEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register activities first (before mocking)
	activities := &Activities{}
	env.RegisterActivity(activities.SimulateTransaction)
	env.RegisterActivity(activities.SendAndConfirm)
	env.RegisterActivity(activities.JournalRescue)
	return env, activities
}

func TestBroadcastWorkflow(t *testing.T) {
	input := BroadcastInput{
		Payload:              "payload",
		Network:              "mainnet-beta",
		Kind:                 "sweep_sol",
		CompromisedWallet:    "Comp111111111111111111111111111111111111111",
		SafeWallet:           "Safe111111111111111111111111111111111111111",
		LastValidBlockHeight: 1000,
		FeeLamports:          5000,
	}
	slot := uint64(4242)

	tests := []struct {
		name           string
		input          BroadcastInput
		setup          func(env *testsuite.TestWorkflowEnvironment, a *Activities, journaled *[]JournalInput)
		expectedError  bool
		validateResult func(*testing.T, *BroadcastResult, []JournalInput)
	}{
		{
			name:  "simulates, sends and journals",
			input: input,
			setup: func(env *testsuite.TestWorkflowEnvironment, a *Activities, journaled *[]JournalInput) {
				env.OnActivity(a.SimulateTransaction, mock.Anything, SimulateTxInput{Payload: "payload"}).
					Return(&SimulateTxResult{Signature: testSig, Succeeded: true, UnitsConsumed: 450}, nil)
				env.OnActivity(a.SendAndConfirm, mock.Anything, SendTxInput{Payload: "payload", LastValidBlockHeight: 1000}).
					Return(&SendTxResult{Signature: testSig, Status: "confirmed", Slot: &slot, Attempts: 2}, nil)
				env.OnActivity(a.JournalRescue, mock.Anything, mock.Anything).
					Run(func(args mock.Arguments) {
						*journaled = append(*journaled, args.Get(1).(JournalInput))
					}).
					Return(&db.Rescue{}, nil)
			},
			validateResult: func(t *testing.T, result *BroadcastResult, journaled []JournalInput) {
				assert.Equal(t, testSig, result.Signature)
				assert.Equal(t, "confirmed", result.Status)
				require.NotNil(t, result.Slot)
				assert.Equal(t, slot, *result.Slot)
				assert.Equal(t, 2, result.Attempts)
				assert.True(t, result.Simulation.Succeeded)
				assert.Nil(t, result.Error)

				require.Len(t, journaled, 2)
				assert.Equal(t, StatusPending, journaled[0].Status)
				assert.False(t, journaled[0].Publish)
				assert.Equal(t, "confirmed", journaled[1].Status)
				assert.True(t, journaled[1].Publish)
				assert.Equal(t, input.CompromisedWallet, journaled[1].CompromisedWallet)
				assert.Equal(t, uint64(5000), journaled[1].FeeLamports)
				assert.NotEmpty(t, journaled[1].WorkflowID)
			},
		},
		{
			name:  "failed simulation is journaled as rejected and never sent",
			input: input,
			setup: func(env *testsuite.TestWorkflowEnvironment, a *Activities, journaled *[]JournalInput) {
				msg := `{"InstructionError":[0,{"Custom":1}]}`
				env.OnActivity(a.SimulateTransaction, mock.Anything, mock.Anything).
					Return(&SimulateTxResult{Signature: testSig, Succeeded: false, ErrorKind: "insufficient_funds", Error: &msg}, nil)
				env.OnActivity(a.JournalRescue, mock.Anything, mock.Anything).
					Run(func(args mock.Arguments) {
						*journaled = append(*journaled, args.Get(1).(JournalInput))
					}).
					Return(&db.Rescue{}, nil)
			},
			validateResult: func(t *testing.T, result *BroadcastResult, journaled []JournalInput) {
				assert.Equal(t, StatusRejected, result.Status)
				require.NotNil(t, result.Error)
				assert.Contains(t, *result.Error, "InstructionError")
				require.Len(t, journaled, 1)
				assert.Equal(t, StatusRejected, journaled[0].Status)
				assert.True(t, journaled[0].Publish)
			},
		},
		{
			name: "skip simulation goes straight to send",
			input: func() BroadcastInput {
				in := input
				in.SkipSimulation = true
				return in
			}(),
			setup: func(env *testsuite.TestWorkflowEnvironment, a *Activities, journaled *[]JournalInput) {
				msg := "transaction expired"
				env.OnActivity(a.SendAndConfirm, mock.Anything, mock.Anything).
					Return(&SendTxResult{Signature: testSig, Status: "expired", Attempts: 40, Error: &msg}, nil)
				env.OnActivity(a.JournalRescue, mock.Anything, mock.Anything).
					Run(func(args mock.Arguments) {
						*journaled = append(*journaled, args.Get(1).(JournalInput))
					}).
					Return(&db.Rescue{}, nil)
			},
			validateResult: func(t *testing.T, result *BroadcastResult, journaled []JournalInput) {
				assert.Equal(t, "expired", result.Status)
				assert.Nil(t, result.Simulation)
				require.Len(t, journaled, 1)
				assert.Equal(t, "expired", journaled[0].Status)
				assert.Equal(t, testSig, journaled[0].Signature)
			},
		},
		{
			name:  "simulation activity error fails the workflow",
			input: input,
			setup: func(env *testsuite.TestWorkflowEnvironment, a *Activities, journaled *[]JournalInput) {
				env.OnActivity(a.SimulateTransaction, mock.Anything, mock.Anything).
					Return(nil, errors.New("rpc unavailable"))
			},
			expectedError: true,
		},
		{
			name:  "send error fails the workflow",
			input: input,
			setup: func(env *testsuite.TestWorkflowEnvironment, a *Activities, journaled *[]JournalInput) {
				env.OnActivity(a.SimulateTransaction, mock.Anything, mock.Anything).
					Return(&SimulateTxResult{Signature: testSig, Succeeded: true}, nil)
				env.OnActivity(a.JournalRescue, mock.Anything, mock.Anything).
					Return(&db.Rescue{}, nil)
				env.OnActivity(a.SendAndConfirm, mock.Anything, mock.Anything).
					Return(nil, errors.New("blockhash not found"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newBroadcastEnv(t)
			var journaled []JournalInput
			tt.setup(env, activities, &journaled)

			env.ExecuteWorkflow(BroadcastWorkflow, tt.input)
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result BroadcastResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result, journaled)
		})
	}
}

func TestBroadcastWorkflow_SendFailureJournalsFinalStatus(t *testing.T) {
	signed, tx := signedTransfer(t)

	tests := []struct {
		name          string
		input         BroadcastInput
		simulate      bool
		wantSignature string
		wantJournals  []string
	}{
		{
			name:          "after simulation",
			input:         BroadcastInput{Payload: "payload", Network: "devnet", CompromisedWallet: "Comp"},
			simulate:      true,
			wantSignature: testSig,
			wantJournals:  []string{StatusPending, StatusFailed},
		},
		{
			name:          "without simulation the signature comes from the payload",
			input:         BroadcastInput{Payload: signed, Network: "devnet", CompromisedWallet: "Comp", SkipSimulation: true},
			wantSignature: tx.Signatures[0].String(),
			wantJournals:  []string{StatusFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newBroadcastEnv(t)
			if tt.simulate {
				env.OnActivity(activities.SimulateTransaction, mock.Anything, mock.Anything).
					Return(&SimulateTxResult{Signature: testSig, Succeeded: true}, nil)
			}
			env.OnActivity(activities.SendAndConfirm, mock.Anything, mock.Anything).
				Return(nil, errors.New("resend loop cancelled: context deadline exceeded"))
			var journaled []JournalInput
			env.OnActivity(activities.JournalRescue, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					journaled = append(journaled, args.Get(1).(JournalInput))
				}).
				Return(&db.Rescue{}, nil)

			env.ExecuteWorkflow(BroadcastWorkflow, tt.input)

			require.True(t, env.IsWorkflowCompleted())
			require.Error(t, env.GetWorkflowError())
			require.Len(t, journaled, len(tt.wantJournals))
			for i, status := range tt.wantJournals {
				assert.Equal(t, status, journaled[i].Status)
			}
			final := journaled[len(journaled)-1]
			assert.True(t, final.Publish)
			assert.Equal(t, tt.wantSignature, final.Signature)
			require.NotNil(t, final.Error)
			assert.Contains(t, *final.Error, "context deadline exceeded")
		})
	}
}

func TestBroadcastWorkflow_JournalRetries(t *testing.T) {
	env, activities := newBroadcastEnv(t)

	env.OnActivity(activities.SimulateTransaction, mock.Anything, mock.Anything).
		Return(&SimulateTxResult{Signature: testSig, Succeeded: true}, nil)
	env.OnActivity(activities.SendAndConfirm, mock.Anything, mock.Anything).
		Return(&SendTxResult{Signature: testSig, Status: "finalized", Attempts: 1}, nil)

	// Fail twice then succeed
	callCount := 0
	env.OnActivity(activities.JournalRescue, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient error") // Temporal retries on panics
		}
	}).Return(&db.Rescue{}, nil)

	env.ExecuteWorkflow(BroadcastWorkflow, BroadcastInput{Payload: "payload", Network: "devnet"})

	assert.NoError(t, env.GetWorkflowError())
	var result BroadcastResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "finalized", result.Status)
	// 2 failures + pending journal + final journal
	assert.Equal(t, 4, callCount)
}

func TestPruneRescuesWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.PruneRescues)
	env.OnActivity(activities.PruneRescues, mock.Anything, PruneInput{Retention: 720 * time.Hour}).
		Return(&PruneResult{Deleted: 7}, nil)

	env.ExecuteWorkflow(PruneRescuesWorkflow, PruneInput{Retention: 720 * time.Hour})

	require.NoError(t, env.GetWorkflowError())
	var result PruneResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, int64(7), result.Deleted)
}
