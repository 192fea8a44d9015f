// Package interrupt implements the Interrupt Controller (spec.md §4.D):
// the single demultiplexing point for push events, deduping against the
// Correlation Registry before typed dispatch. HTTP responses do not pass
// through it: the pipeline's RES stage applies them to the Transaction
// Processor directly.
package interrupt

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/corestack/taskpipe/internal/correlation"
	"github.com/corestack/taskpipe/internal/model"
)

// Event is the controller's single input shape. Source records where it
// came from; in this module only the push event stream dispatches
// events.
type Event struct {
	Source        string // "push" or "http"
	Type          string
	CorrelationID model.ID
	EventID       model.ID
	Payload       any
}

// Handler reacts to a dispatched, non-suppressed Event.
type Handler func(event Event)

// Controller demultiplexes events by type, suppressing any event whose
// correlation id matches a local in-flight write (spec.md §4.D.1).
type Controller struct {
	log    *slog.Logger
	corr   *correlation.Registry
	mu     sync.RWMutex
	byType map[string][]Handler
}

// New returns a Controller that consults corr to suppress echoes of
// local writes. log is required, matching the teacher's convention of
// threading a logger explicitly rather than relying on slog's default.
func New(corr *correlation.Registry, log *slog.Logger) *Controller {
	return &Controller{
		log:    log,
		corr:   corr,
		byType: make(map[string][]Handler),
	}
}

// Register subscribes handler to eventType. Multiple handlers for the
// same type are invoked sequentially in registration order.
func (c *Controller) Register(eventType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[eventType] = append(c.byType[eventType], handler)
}

// Dispatch is the single entry point for all external events (spec.md
// §4.D). A correlation-id hit against the registry drops the event
// silently — the local write already applied it optimistically and
// observed the HTTP response. Otherwise every registered handler for
// event.Type runs; a handler panic or nothing being registered never
// prevents sibling handlers from running.
func (c *Controller) Dispatch(event Event) {
	if !event.CorrelationID.IsZero() {
		if entry, ok := c.corr.Consume(event.CorrelationID); ok {
			c.log.Debug("interrupt: suppressed local echo",
				"correlation_id", event.CorrelationID.String(),
				"instruction_type", entry.InstructionType)
			return
		}
	}

	c.mu.RLock()
	handlers := append([]Handler(nil), c.byType[event.Type]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		c.invokeSafely(h, event)
	}
}

// invokeSafely runs h, logging and swallowing both panics and — by
// convention, since Handler has no error return — any failure a handler
// wants to surface is expected to log it itself before returning
// (spec.md §4.D.2: "exceptions in one handler must not prevent sibling
// handlers from running").
func (c *Controller) invokeSafely(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("interrupt: handler panicked",
				"event_type", event.Type,
				"recovered", fmt.Sprint(r))
		}
	}()
	h(event)
}
