package events

import (
	"context"
	"errors"

	"github.com/you-humble/loggenie/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, ev domain.JobEvent) error
}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev domain.JobEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Noop struct{}

func (Noop) Publish(context.Context, domain.JobEvent) error { return nil }
