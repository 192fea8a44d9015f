// Package transport issues the HTTP requests an ISA RequestTemplate
// declares (spec.md §6). EX launches these; Execute decodes the response
// and RES applies the decoded envelope.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corestack/taskpipe/internal/isa"
	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/txn"
)

// Client issues ISA request templates against a single base URL.
// Grounded on the teacher's internal/rpc/http_client.go: a bearer token
// header, a request-scoped correlation-style header (X-BD-Actor there,
// X-Correlation-ID here), and body-then-status-then-decode handling.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	decoders   model.Decoders
}

// New returns a Client. decoders resolves a Kind's wire JSON into its
// concrete Entity type for TransactionEnvelope response bodies.
func New(baseURL, token string, decoders model.Decoders) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		decoders:   decoders,
	}
}

// Execute issues tmpl against payload, applying timeout if non-zero.
// correlationID is stamped on every non-GET request per spec.md §6. If
// the response body matches the TransactionEnvelope shape and def names
// an EntityKind, the result's Envelope field is populated.
func (c *Client) Execute(ctx context.Context, def isa.Definition, payload any, correlationID model.ID, timeout time.Duration) (isa.ExecuteResult, error) {
	tmpl := def.Request
	if tmpl == nil {
		return isa.ExecuteResult{}, fmt.Errorf("transport: definition has no request template")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url := c.baseURL + tmpl.Path(payload)

	var bodyReader io.Reader
	if tmpl.Body != nil {
		raw, err := json.Marshal(tmpl.Body(payload))
		if err != nil {
			return isa.ExecuteResult{}, fmt.Errorf("transport: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, tmpl.Method, url, bodyReader)
	if err != nil {
		return isa.ExecuteResult{}, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if tmpl.Method != http.MethodGet && !correlationID.IsZero() {
		req.Header.Set("X-Correlation-ID", correlationID.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return isa.ExecuteResult{}, fmt.Errorf("transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return isa.ExecuteResult{}, fmt.Errorf("transport: read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return isa.ExecuteResult{}, &ServerError{Status: resp.StatusCode, Body: string(respBody)}
	}

	result := isa.ExecuteResult{Raw: json.RawMessage(respBody)}
	if def.Meta.EntityKind == "" || len(respBody) == 0 {
		return result, nil
	}

	env, err := decodeResponseEnvelope(def.Meta.EntityKind, respBody, c.decoders)
	if err != nil {
		// Not every mutating response is shaped as a TransactionEnvelope
		// (e.g. a bare 204); that is not an error, just no envelope to apply.
		return result, nil
	}
	env.CorrelationID = correlationID
	result.Envelope = toISAEnvelope(env)
	return result, nil
}

// ServerError wraps a non-2xx HTTP response (spec.md §7's "Server"
// error taxonomy entry).
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("transport: server returned status %d: %s", e.Status, e.Body)
}

// StatusCode exposes the HTTP status so callers (the pipeline's error
// classifier) can distinguish a Server error from a plain Transport one
// without importing this package.
func (e *ServerError) StatusCode() int { return e.Status }

// responseSideEffectSet is one kind's worth of side effects on a
// TransactionEnvelope HTTP response. side_effects decodes as an ordered
// array (not a map keyed by kind) so the groups' declared order (spec.md
// §4.C step 3: applied "in the order declared by the envelope") survives
// decode instead of being scrambled by Go's randomized map iteration.
type responseSideEffectSet struct {
	Kind           model.Kind        `json:"kind"`
	AddedOrUpdated []json.RawMessage `json:"added_or_updated,omitempty"`
	Removed        []string          `json:"removed,omitempty"`
}

func decodeResponseEnvelope(kind model.Kind, body []byte, decoders model.Decoders) (txn.Envelope, error) {
	var wire struct {
		Entity      json.RawMessage         `json:"entity"`
		SideEffects []responseSideEffectSet `json:"side_effects,omitempty"`
		EventID     string                  `json:"event_id,omitempty"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return txn.Envelope{}, err
	}
	if len(wire.Entity) == 0 {
		return txn.Envelope{}, fmt.Errorf("transport: response has no entity field")
	}
	decode, ok := decoders[kind]
	if !ok {
		return txn.Envelope{}, fmt.Errorf("transport: no decoder registered for kind %q", kind)
	}
	primary, err := decode(wire.Entity)
	if err != nil {
		return txn.Envelope{}, fmt.Errorf("transport: decode primary entity: %w", err)
	}

	env := txn.Envelope{PrimaryKind: kind, Primary: primary}
	if wire.EventID != "" {
		if id, err := model.ParseID(wire.EventID); err == nil {
			env.EventID = id
		}
	}
	for _, set := range wire.SideEffects {
		sideDecode, ok := decoders[set.Kind]
		if !ok {
			continue
		}
		group := txn.SideEffectGroup{Kind: set.Kind}
		for _, raw := range set.AddedOrUpdated {
			e, err := sideDecode(raw)
			if err != nil {
				continue
			}
			group.AddedOrUpdated = append(group.AddedOrUpdated, e)
		}
		for _, rawID := range set.Removed {
			if id, err := model.ParseID(rawID); err == nil {
				group.Removed = append(group.Removed, id)
			}
		}
		env.SideEffects = append(env.SideEffects, group)
	}
	return env, nil
}

func toISAEnvelope(env txn.Envelope) *isa.Envelope {
	out := &isa.Envelope{
		PrimaryKind:   env.PrimaryKind,
		Primary:       env.Primary,
		CorrelationID: env.CorrelationID,
		EventID:       env.EventID,
	}
	for _, g := range env.SideEffects {
		out.SideEffects = append(out.SideEffects, isa.SideEffectGroup{
			Kind:           g.Kind,
			AddedOrUpdated: g.AddedOrUpdated,
			Removed:        g.Removed,
		})
	}
	return out
}
