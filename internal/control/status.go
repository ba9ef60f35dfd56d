package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// StatusEmitter periodically publishes the status document.
type StatusEmitter struct {
	pub      Publisher
	topic    string
	qos      byte
	interval time.Duration
	status   func() map[string]any
}

// NewStatusEmitter creates an emitter publishing status() to topic.
func NewStatusEmitter(pub Publisher, topic string, qos byte, interval time.Duration, status func() map[string]any) *StatusEmitter {
	return &StatusEmitter{
		pub:      pub,
		topic:    topic,
		qos:      qos,
		interval: interval,
		status:   status,
	}
}

// Run publishes immediately and then every interval until ctx is done.
func (e *StatusEmitter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publish()
		}
	}
}

func (e *StatusEmitter) publish() {
	doc := e.status()
	doc["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(doc)
	if err != nil {
		slog.Error("control: failed to marshal status", "error", err)
		return
	}
	if err := publishWait(e.pub, e.topic, e.qos, payload); err != nil {
		slog.Warn("control: failed to publish status", "error", err)
	}
}
