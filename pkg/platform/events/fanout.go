package events

import (
	"context"

	id "custodia/pkg/domain"
)

// Sink receives a copy of every appended event. Sinks are best-effort
// forwarders (brokers, log shippers); the primary store remains the source
// of truth and a sink failure fails the append so no transition goes
// unrecorded.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// FanoutStore appends to a primary store and forwards to sinks.
type FanoutStore struct {
	primary Store
	sinks   []Sink
}

func NewFanoutStore(primary Store, sinks ...Sink) *FanoutStore {
	return &FanoutStore{primary: primary, sinks: sinks}
}

func (f *FanoutStore) Append(ctx context.Context, event Event) error {
	if err := f.primary.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range f.sinks {
		if err := sink.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (f *FanoutStore) ListBySubject(ctx context.Context, subject id.Identity) ([]Event, error) {
	return f.primary.ListBySubject(ctx, subject)
}

func (f *FanoutStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	return f.primary.ListRecent(ctx, limit)
}
