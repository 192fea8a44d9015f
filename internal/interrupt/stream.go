package interrupt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/corestack/taskpipe/internal/model"
)

// Status is the application-visible connection status spec.md §6
// requires for the push event stream.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// MaxBackoff caps the reconnect backoff at 30 s (spec.md §6).
const MaxBackoff = 30 * time.Second

// StreamOptions configures the push event stream client.
type StreamOptions struct {
	BaseURL string
	Token   string
	// KindForEventType maps a wire event_type (e.g. "task.updated") to
	// the entity Kind its payload's primary entity decodes as.
	KindForEventType func(eventType string) (model.Kind, bool)
	// Decoders resolves a Kind's raw JSON into a concrete model.Entity.
	Decoders model.Decoders
}

// Stream is a long-lived client for the push event stream (spec.md §6),
// dispatching decoded events into a Controller and maintaining an
// application-visible connection status with exponential-backoff
// reconnect capped at 30 s. Grounded on the teacher's
// internal/rpc/http_client_sse.go bufio.Scanner-based SSE parser.
type Stream struct {
	opts       StreamOptions
	controller *Controller
	log        *slog.Logger
	client     *http.Client
	status     atomic.Value // Status
}

// NewStream returns a Stream that dispatches decoded push events into
// controller.
func NewStream(opts StreamOptions, controller *Controller, log *slog.Logger) *Stream {
	s := &Stream{
		opts:       opts,
		controller: controller,
		log:        log,
		client:     &http.Client{},
	}
	s.status.Store(StatusReconnecting)
	return s
}

// Status returns the current connection status.
func (s *Stream) Status() Status {
	return s.status.Load().(Status)
}

// Run connects and reconnects until ctx is canceled. It never returns
// before ctx is done, except if the server rejects credentials (401 or
// 403), which is treated as terminal (spec.md's "failed" status).
func (s *Stream) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = MaxBackoff
	bo.MaxElapsedTime = 0 // retry forever; only an auth failure is terminal

	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// connectOnce only returns nil via a clean server-side close;
			// treat it like any other drop and reconnect.
			err = fmt.Errorf("interrupt: stream closed by server")
		}
		if isTerminal(err) {
			s.status.Store(StatusFailed)
			s.log.Error("interrupt: push stream failed permanently", "error", err)
			return
		}
		s.status.Store(StatusReconnecting)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			s.status.Store(StatusFailed)
			return
		}
		s.log.Warn("interrupt: push stream disconnected, reconnecting", "error", err, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

type authError struct{ status int }

func (e authError) Error() string { return fmt.Sprintf("interrupt: stream auth rejected (%d)", e.status) }

func isTerminal(err error) bool {
	_, ok := err.(authError)
	return ok
}

// connectOnce opens the stream and blocks, dispatching events, until the
// connection drops or ctx is canceled.
func (s *Stream) connectOnce(ctx context.Context) error {
	url := strings.TrimSuffix(s.opts.BaseURL, "/") + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("interrupt: build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("interrupt: stream connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return authError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("interrupt: stream endpoint returned status %d", resp.StatusCode)
	}

	s.status.Store(StatusConnected)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data != "" {
				s.handleRaw(data)
			}
			eventName, data = "", ""
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if data != "" {
				data += "\n" + chunk
			} else {
				data = chunk
			}
		}
		_ = eventName // the event: field is informational; event_type lives in the JSON body
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("interrupt: stream read error: %w", err)
	}
	return nil
}

func (s *Stream) handleRaw(data string) {
	var wire wirePushEvent
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		s.log.Error("interrupt: malformed push event", "error", err)
		return
	}

	event := Event{Source: "push", Type: wire.EventType}
	if wire.CorrelationID != "" {
		if id, err := model.ParseID(wire.CorrelationID); err == nil {
			event.CorrelationID = id
		}
	}
	if wire.EventID != "" {
		if id, err := model.ParseID(wire.EventID); err == nil {
			event.EventID = id
		}
	}

	kind, ok := s.opts.KindForEventType(wire.EventType)
	if !ok {
		s.log.Warn("interrupt: unrecognized event_type, dispatching without decoded payload", "event_type", wire.EventType)
		s.controller.Dispatch(event)
		return
	}
	env, err := decodeEnvelope(kind, wire.Payload, s.opts.Decoders)
	if err != nil {
		s.log.Error("interrupt: failed to decode push event payload", "event_type", wire.EventType, "error", err)
		return
	}
	event.Payload = env
	s.controller.Dispatch(event)
}
