package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
)

// Subjects carried over NATS. Item changes and region events are
// persistent (JetStream); clients replay what they missed while
// backgrounded.
const (
	SubjectItemPrefix     = "tbeacon.items."
	SubjectRegionPrefix   = "tbeacon.region."
	SubjectNotify         = "tbeacon.notify"
	SubjectPositionPrefix = "tbeacon.position."
)

// itemChangeEnvelope wraps an item with what happened to it.
type itemChangeEnvelope struct {
	Change string       `json:"change"` // created | updated | completed | reopened | deleted
	Item   *domain.Item `json:"item"`
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS, enables JetStream, and ensures the
// streams exist.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	streams := []nats.StreamConfig{
		{
			Name:      "ITEM_EVENTS",
			Subjects:  []string{"tbeacon.items.>"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "REGION_EVENTS",
			Subjects:  []string{"tbeacon.region.>", "tbeacon.notify"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "POSITIONS",
			Subjects:  []string{"tbeacon.position.>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishItemChange announces an item mutation.
func (p *Publisher) PublishItemChange(ctx context.Context, item *domain.Item, change string) error {
	data, err := json.Marshal(itemChangeEnvelope{Change: change, Item: item})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectItemPrefix+item.UID, data)
	return err
}

// PublishRegionEvent announces a region entry/exit.
func (p *Publisher) PublishRegionEvent(ctx context.Context, ev *domain.RegionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectRegionPrefix+string(ev.Kind), data)
	return err
}

// PublishPosition forwards a raw device position onto the work queue.
func (p *Publisher) PublishPosition(ctx context.Context, pos *domain.DevicePosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectPositionPrefix+pos.DeviceID, data)
	return err
}

// PublishNotification pushes a reminder toward the device relay.
func (p *Publisher) PublishNotification(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectNotify, data)
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. the
// WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
