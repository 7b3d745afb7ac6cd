package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/bhadraagada/ralphh/internal/common/logger"
)

// NATSBridge republishes every journaled event onto a NATS subject derived
// from its thread, for deployments with observers in other processes. It
// runs alongside the in-memory Broadcaster, not in place of it. It is wired
// up only when Config.Events.NATSUrl is non-empty; the default,
// single-process deployment uses Broadcaster alone.
type NATSBridge struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSBridge connects to url and returns a bridge ready to publish.
func NewNATSBridge(url string, log *logger.Logger) (*NATSBridge, error) {
	conn, err := nats.Connect(url, nats.Name("ralphd-events"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBridge{conn: conn, log: log}, nil
}

// Publish republishes ev onto "ralph.events.<threadId>".
func (b *NATSBridge) Publish(ev Event) {
	subject := "ralph.events." + ev.ThreadID
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("nats bridge: failed to marshal event")
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Warn("nats bridge: publish failed")
	}
}

// Close closes the underlying NATS connection without draining it.
func (b *NATSBridge) Close() {
	b.conn.Close()
}
