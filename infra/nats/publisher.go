// Package nats publishes outbox messages to a NATS subject.
package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// KeyHeader carries the partition key, which NATS has no native slot for.
const KeyHeader = "Depthbook-Key"

const flushTimeout = 5 * time.Second

type Publisher struct {
	conn    *nats.Conn
	subject string
}

func Connect(url, subject, name string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

// Publish returns once the server has received the message.
func (p *Publisher) Publish(ctx context.Context, key, value []byte) error {
	msg := nats.NewMsg(p.subject)
	msg.Data = value
	if len(key) > 0 {
		msg.Header.Set(KeyHeader, string(key))
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return p.conn.FlushTimeout(flushTimeout)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *Publisher) Close() error {
	return p.conn.Drain()
}
