package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// Store persists events. Append-only: nothing updates or deletes an event.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject id.Identity) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Publisher stamps and persists settlement events. Services hold an Emitter
// scoped to their own service name.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Emitter binds a publisher to one service's name.
func (p *Publisher) Emitter(service string) *Emitter {
	return &Emitter{publisher: p, service: service}
}

type Emitter struct {
	publisher *Publisher
	service   string
}

// Emit appends one event for a completed operation. The timestamp comes from
// the request-scoped clock so replays and tests are deterministic.
func (e *Emitter) Emit(ctx context.Context, subject id.Identity, kind Kind, payload map[string]any) error {
	event := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Service:   e.service,
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject,
		Payload:   payload,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return e.publisher.store.Append(ctx, event)
}
