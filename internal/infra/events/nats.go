package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/you-humble/loggenie/internal/domain"

	"github.com/nats-io/nats.go"
)

// natsPublisher writes job events to JetStream under <prefix>.<event type>.
type natsPublisher struct {
	js     nats.JetStreamContext
	prefix string
}

func NewNATSPublisher(js nats.JetStreamContext, prefix string) *natsPublisher {
	return &natsPublisher{js: js, prefix: prefix}
}

// Subjects lists the wildcard the stream must cover.
func Subjects(prefix string) []string {
	return []string{prefix + ".>"}
}

func (p *natsPublisher) Publish(ctx context.Context, ev domain.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.prefix + "." + string(ev.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, ev.Job.ID+":"+string(ev.Type))

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s for job %s: %w", ev.Type, ev.Job.ID, err)
	}

	slog.Debug("job event published",
		slog.String("job_id", ev.Job.ID),
		slog.String("subject", msg.Subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}
