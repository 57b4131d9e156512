package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHandler(t *testing.T, method, path string, status int, body interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, method, r.Method)
		assert.Equal(t, path, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}

func TestDecode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/decode", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body DecodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "AQID", body.Payload)
		assert.Equal(t, "SafeWa11et", body.FeePayer)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction": map[string]interface{}{
				"version":               "0",
				"encoding":              "base64",
				"fee_payer":             "SafeWa11et",
				"needs_external_signer": true,
				"instructions":          []interface{}{map[string]interface{}{"program_id": "11111111111111111111111111111111"}},
			},
			"program_ids":      []string{"11111111111111111111111111111111"},
			"external_signers": []string{"Compromised"},
			"encoded":          "AQIDBA==",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	resp, err := client.Decode(context.Background(), DecodeRequest{Payload: "AQID", FeePayer: "SafeWa11et"})

	require.NoError(t, err)
	assert.Equal(t, "0", resp.Transaction.Version)
	assert.True(t, resp.Transaction.NeedsExternalSigner)
	require.Len(t, resp.Transaction.Instructions, 1)
	assert.Equal(t, []string{"Compromised"}, resp.ExternalSigners)
	assert.Equal(t, "AQIDBA==", resp.Encoded)
}

func TestDecode_ServerError(t *testing.T) {
	server := httptest.NewServer(jsonHandler(t, "POST", "/api/v1/decode", http.StatusBadRequest,
		map[string]string{"error": "malformed payload: payload is neither base58 nor base64"}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	resp, err := client.Decode(context.Background(), DecodeRequest{Payload: "!!"})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "neither base58 nor base64")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestSimulate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []interface{}{"A", "B"}, body["addresses"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"succeeded": true,
			"result": map[string]interface{}{
				"units_consumed": 450,
				"rows": []interface{}{
					map[string]interface{}{"address": "A", "lamports_delta": -5000},
				},
			},
			"table": "ACCOUNT ...",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	resp, err := client.Simulate(context.Background(), "AQID", []string{"A", "B"})

	require.NoError(t, err)
	assert.True(t, resp.Succeeded)
	assert.Equal(t, uint64(450), resp.Result.UnitsConsumed)
	require.Len(t, resp.Result.Rows, 1)
	assert.Equal(t, int64(-5000), resp.Result.Rows[0].LamportsDelta)
}

func TestPlan_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/plans", r.URL.Path)
		var body PlanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sweep_token", body.Kind)
		assert.Equal(t, "Mint", body.Mint)
		assert.True(t, body.PriorityFee)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"plan":                        map[string]interface{}{"kind": "sweep_token", "fee_payer": "Safe", "estimated_fee_lamports": 10000},
			"transaction":                 "AQID",
			"blockhash":                   "Hash",
			"last_valid_block_height":     1234,
			"priority_fee_micro_lamports": 5000,
			"compute_unit_limit":          36000,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	resp, err := client.Plan(context.Background(), PlanRequest{
		Kind: "sweep_token", Compromised: "Bad", Safe: "Safe", Mint: "Mint", PriorityFee: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "Safe", resp.Plan.FeePayer)
	assert.Equal(t, uint64(10000), resp.Plan.EstimatedFeeLamports)
	assert.Equal(t, uint64(1234), resp.LastValidBlockHeight)
	assert.Equal(t, uint64(5000), resp.PriorityFeeMicroLamports)
	assert.Equal(t, uint32(36000), resp.ComputeUnitLimit)
}

func TestPortfolio_Success(t *testing.T) {
	server := httptest.NewServer(jsonHandler(t, "GET", "/api/v1/wallets/wallet123/portfolio", http.StatusOK, map[string]interface{}{
		"wallet":   "wallet123",
		"lamports": 1_500_000_000,
		"tokens": []interface{}{
			map[string]interface{}{"mint": "USDC", "amount": 2_500_000, "decimals": 6},
		},
		"values_usd": map[string]string{"USDC": "2.5"},
		"total_usd":  "227.5",
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	p, err := client.Portfolio(context.Background(), "wallet123")

	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), p.Lamports)
	require.Len(t, p.Tokens, 1)
	assert.Equal(t, "2.5", p.Tokens[0].UIAmount().String())
	require.NotNil(t, p.TotalUSD)
	assert.True(t, decimal.RequireFromString("227.5").Equal(*p.TotalUSD))
}

func TestHistory_QueryParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets/wallet123/history", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "sigX", r.URL.Query().Get("before"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transactions": []interface{}{
				map[string]interface{}{"signature": "sig1", "slot": 100, "amount": 42},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	txns, err := client.History(context.Background(), "wallet123", 10, "sigX")

	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "sig1", txns[0].Signature)
	assert.Equal(t, uint64(42), txns[0].Amount)
}

func TestPrices_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MintA,MintB", r.URL.Query().Get("mints"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices":{"MintA":"1.0001"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	prices, err := client.Prices(context.Background(), []string{"MintA", "MintB"})

	require.NoError(t, err)
	assert.Len(t, prices, 1)
	assert.Equal(t, "1.0001", prices["MintA"].String())
}

func TestBroadcast_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		var body BroadcastRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, uint64(900), body.LastValidBlockHeight)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Broadcast{WorkflowID: "broadcast-devnet-sig", Signature: "sig", Network: "devnet", Status: "Running"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	b, err := client.Broadcast(context.Background(), BroadcastRequest{
		Payload: "AQID", Compromised: "Bad", Safe: "Safe", LastValidBlockHeight: 900,
	})

	require.NoError(t, err)
	assert.Equal(t, "broadcast-devnet-sig", b.WorkflowID)
}

func TestWaitBroadcast_PollsUntilDone(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/broadcasts/broadcast-devnet-sig", r.URL.Path)
		status := BroadcastStatus{WorkflowID: "broadcast-devnet-sig", Status: "Running"}
		if atomic.AddInt32(&calls, 1) >= 3 {
			status.Status = "Completed"
			status.Result = &BroadcastResult{Signature: "sig", Status: "finalized", Attempts: 4}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.WaitBroadcast(ctx, "broadcast-devnet-sig", 10*time.Millisecond)

	require.NoError(t, err)
	assert.True(t, status.Done())
	require.NotNil(t, status.Result)
	assert.Equal(t, "finalized", status.Result.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetBroadcast_NotFound(t *testing.T) {
	server := httptest.NewServer(jsonHandler(t, "GET", "/api/v1/broadcasts/missing", http.StatusNotFound,
		map[string]string{"error": "broadcast not found"}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	status, err := client.GetBroadcast(context.Background(), "missing")

	require.Error(t, err)
	assert.Nil(t, status)
	assert.Contains(t, err.Error(), "broadcast not found")
}

func TestListRescues(t *testing.T) {
	tests := []struct {
		name          string
		wallet        string
		response      string
		expectedTotal int64
	}{
		{
			name:          "by wallet",
			wallet:        "wallet123",
			response:      `{"rescues":[{"signature":"sig1","status":"confirmed"}],"count":1,"total":7}`,
			expectedTotal: 7,
		},
		{
			name:          "recent",
			response:      `{"rescues":[{"signature":"sig1","status":"confirmed"}],"count":1}`,
			expectedTotal: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wallet, r.URL.Query().Get("wallet"))
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.response))
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			rescues, total, err := client.ListRescues(context.Background(), tt.wallet, "", 0)

			require.NoError(t, err)
			require.Len(t, rescues, 1)
			assert.Equal(t, "sig1", rescues[0].Signature)
			assert.Equal(t, tt.expectedTotal, total)
		})
	}
}

func TestParseErrorResponse_PlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "404 page not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetRescue(context.Background(), "sig1", "devnet")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "404 page not found")
}

// streamServer serves an empty journal and hands the event stream to stream.
func streamServer(t *testing.T, journal string, stream http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/rescues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(journal))
	})
	mux.HandleFunc("GET /api/v1/stream/rescues/{address}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wallet123", r.PathValue("address"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		stream(w, r)
	})
	return httptest.NewServer(mux)
}

func TestClient_Await_MatchingRescue(t *testing.T) {
	server := streamServer(t, `{"rescues":[]}`, func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "ResponseWriter should support flushing")

		w.Write([]byte("event: connected\ndata: {\"wallet\":\"wallet123\"}\n\n"))
		w.Write([]byte(": keepalive\n\n"))
		for _, ev := range []RescueEvent{
			{Signature: "pending-sig", Status: "expired", CompromisedWallet: "wallet123"},
			{Signature: "sig-123", Status: "finalized", CompromisedWallet: "wallet123", Kind: "sweep_sol"},
		} {
			data, _ := json.Marshal(ev)
			w.Write([]byte("event: rescue\ndata: " + string(data) + "\n\n"))
			flusher.Flush()
		}
		<-r.Context().Done()
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := client.Await(ctx, "wallet123", func(ev *RescueEvent) bool {
		return ev.Status == "finalized"
	})

	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "sig-123", ev.Signature)
	assert.Equal(t, "sweep_sol", ev.Kind)
}

func TestClient_Await_LookbackFindsRescue(t *testing.T) {
	var streamed atomic.Bool
	server := streamServer(t,
		`{"rescues":[{"signature":"old-sig","status":"confirmed","compromised_wallet":"wallet123"}],"total":1}`,
		func(w http.ResponseWriter, r *http.Request) {
			streamed.Store(true)
		})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ev, err := client.Await(context.Background(), "wallet123", func(ev *RescueEvent) bool {
		return ev.Signature == "old-sig"
	})

	require.NoError(t, err)
	assert.Equal(t, "confirmed", ev.Status)
	assert.False(t, streamed.Load(), "stream should not be opened when the journal matches")
}

func TestClient_Await_Timeout(t *testing.T) {
	server := streamServer(t, `{"rescues":[]}`, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	ev, err := client.Await(ctx, "wallet123", func(*RescueEvent) bool { return true })

	require.Error(t, err)
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_Await_StreamClosed(t *testing.T) {
	server := streamServer(t, `{"rescues":[]}`, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("event: rescue\ndata: not-json\n\n"))
	})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ev, err := client.Await(context.Background(), "wallet123", func(*RescueEvent) bool { return true })

	require.Error(t, err)
	assert.Nil(t, ev)
	assert.Contains(t, err.Error(), "stream closed")
}

func TestClient_Watch_AllWallets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stream/rescues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: connected\ndata: {\"wallet\":\"all\"}\n\n"))
		for _, sig := range []string{"sig-1", "sig-2", "sig-3"} {
			data, _ := json.Marshal(RescueEvent{Signature: sig, Status: "confirmed"})
			w.Write([]byte("event: rescue\ndata: " + string(data) + "\n\n"))
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	err := client.Watch(ctx, "", func(ev *RescueEvent) bool {
		seen = append(seen, ev.Signature)
		return len(seen) < 2
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"sig-1", "sig-2"}, seen)
}
