package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	natspkg "github.com/brojonat/rescuer/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const sseKeepaliveInterval = 10 * time.Second

// RescueFeed delivers finished rescues as they are published.
type RescueFeed interface {
	// Subscribe delivers events on subject until ctx is done. With replay,
	// every retained event is delivered before new ones.
	Subscribe(ctx context.Context, subject string, replay bool) (<-chan *natspkg.RescueEvent, error)
	Close() error
}

// SSEPublisher feeds the rescue stream endpoints from the NATS RESCUES stream.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS for the rescue stream endpoints.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("rescuer-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)
	return &SSEPublisher{nc: nc, js: js, logger: logger}, nil
}

// Subscribe creates an ephemeral consumer on subject. Undecodable messages are
// acked and dropped.
func (p *SSEPublisher) Subscribe(ctx context.Context, subject string, replay bool) (<-chan *natspkg.RescueEvent, error) {
	deliver := jetstream.DeliverNewPolicy
	if replay {
		deliver = jetstream.DeliverAllPolicy
	}
	cons, err := p.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: deliver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", subject, err)
	}

	events := make(chan *natspkg.RescueEvent, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		var ev natspkg.RescueEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			p.logger.WarnContext(ctx, "dropping undecodable rescue event", "subject", msg.Subject(), "error", err)
			return
		}
		select {
		case events <- &ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		cc.Stop()
	}()
	return events, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// rescueFilter narrows a stream by network, kind and final status.
type rescueFilter struct {
	Network string `json:"network,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (f rescueFilter) match(ev *natspkg.RescueEvent) bool {
	return (f.Network == "" || ev.Network == f.Network) &&
		(f.Kind == "" || ev.Kind == f.Kind) &&
		(f.Status == "" || ev.Status == f.Status)
}

// handleStreamRescues streams finished rescues as Server-Sent Events.
// Without an address path parameter every wallet is streamed. The network,
// kind and status query parameters filter events; replay=true starts from
// the oldest retained event.
func handleStreamRescues(feed RescueFeed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		subject := natspkg.StreamSubjects
		walletDesc := "all wallets"
		if address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			subject = natspkg.Subject(address)
			walletDesc = address
		}

		q := r.URL.Query()
		filter := rescueFilter{
			Network: q.Get("network"),
			Kind:    q.Get("kind"),
			Status:  q.Get("status"),
		}
		replay := false
		if v := q.Get("replay"); v != "" {
			var err error
			if replay, err = strconv.ParseBool(v); err != nil {
				writeError(w, "invalid replay parameter", http.StatusBadRequest)
				return
			}
		}

		ctx := r.Context()
		events, err := feed.Subscribe(ctx, subject, replay)
		if err != nil {
			logger.ErrorContext(ctx, "failed to subscribe to rescues", "wallet", walletDesc, "error", err)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		// Streams outlive the server's write timeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			logger.DebugContext(ctx, "cannot clear write deadline", "error", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		hello, _ := json.Marshal(struct {
			Wallet  string       `json:"wallet"`
			Filters rescueFilter `json:"filters"`
			Replay  bool         `json:"replay"`
		}{walletDesc, filter, replay})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
		if err := rc.Flush(); err != nil {
			logger.ErrorContext(ctx, "streaming unsupported", "error", err)
			return
		}

		logger.DebugContext(ctx, "SSE client connected",
			"wallet", walletDesc,
			"replay", replay,
			"remote_addr", r.RemoteAddr,
		)

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		sent := 0
		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if err := rc.Flush(); err != nil {
					return
				}

			case ev := <-events:
				if !filter.match(ev) {
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal rescue event", "error", err)
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: rescue\ndata: %s\n\n", ev.Signature, data)
				if err := rc.Flush(); err != nil {
					return
				}
				sent++

				logger.DebugContext(ctx, "sent rescue event",
					"wallet", walletDesc,
					"signature", ev.Signature,
					"status", ev.Status,
				)

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"wallet", walletDesc,
					"events_sent", sent,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
