package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Await blocks until a finished rescue of wallet satisfies matcher.
//
// The journal is checked first so rescues that finished before the call are
// found, then the server's event stream is followed. Await returns when
// matcher accepts an event, the stream ends, or ctx is done.
func (c *Client) Await(ctx context.Context, wallet string, matcher func(*RescueEvent) bool) (*RescueEvent, error) {
	if ev := c.lookback(ctx, wallet, matcher); ev != nil {
		return ev, nil
	}

	var found *RescueEvent
	err := c.Watch(ctx, wallet, func(ev *RescueEvent) bool {
		if matcher(ev) {
			found = ev
			return false
		}
		return true
	})
	if found != nil {
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stream closed before a matching rescue arrived")
}

// Watch follows the server's rescue stream and calls handle for every event
// until handle returns false, the stream ends, or ctx is done. An empty
// wallet follows rescues of every wallet. Only new events are delivered.
func (c *Client) Watch(ctx context.Context, wallet string, handle func(*RescueEvent) bool) error {
	u := c.baseURL + "/api/v1/stream/rescues"
	if wallet != "" {
		u += "/" + url.PathEscape(wallet)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the client's request timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev := c.dispatch(event, data); ev != nil && !handle(ev) {
				return nil
			}
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

// dispatch decodes one server-sent rescue event.
func (c *Client) dispatch(event, data string) *RescueEvent {
	if data == "" {
		return nil
	}
	// Unnamed events are treated as rescues.
	if event != "" && event != "rescue" {
		c.logger.Debug("ignoring stream event", "event", event)
		return nil
	}
	var ev RescueEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		c.logger.Warn("failed to decode rescue event", "error", err)
		return nil
	}
	if ev.Signature == "" {
		return nil
	}
	return &ev
}

// lookback searches the journal for a rescue that already finished.
func (c *Client) lookback(ctx context.Context, wallet string, matcher func(*RescueEvent) bool) *RescueEvent {
	rescues, _, err := c.ListRescues(ctx, wallet, "", 0)
	if err != nil {
		c.logger.Debug("journal lookback unavailable", "error", err)
		return nil
	}
	for _, r := range rescues {
		ev := &RescueEvent{
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
		}
		if matcher(ev) {
			return ev
		}
	}
	return nil
}
