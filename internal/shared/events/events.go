package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// Event is a domain event emitted by the commission engine for the audit sink
// and any downstream consumers. Publishing happens strictly after the ledger
// write commits and is best-effort.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  types.ID  `json:"tenant_id,omitempty"`
	Data      any       `json:"data"`
}

// New creates an event with a generated ID and UTC timestamp.
func New(eventType string, tenantID types.ID, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "commission-engine",
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Data:      data,
	}
}

// Publisher is the outbound side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Health() error
	Close()
}

// Noop discards all events. Used when the event store is not configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event Event) error { return nil }
func (Noop) Health() error                                  { return nil }
func (Noop) Close()                                         {}

var _ Publisher = Noop{}
