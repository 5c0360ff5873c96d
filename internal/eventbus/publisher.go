package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

const SubjectActionStatus = "remediation.actions.status"

// StatusEvent is published on every committed transition.
type StatusEvent struct {
	ActionID   string                `json:"action_id"`
	ActionType models.ActionType     `json:"action_type"`
	Status     models.ActionStatus   `json:"status"`
	Event      models.EventType      `json:"event"`
	Actor      string                `json:"actor"`
	Action     *models.Action        `json:"action"`
	Entry      *models.AuditLogEntry `json:"entry"`
	Timestamp  int64                 `json:"timestamp"`
}

type Publisher struct {
	mu   sync.RWMutex // guards conn against Close during a publish
	conn *nats.Conn
}

func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second))

	if err != nil {
		return nil, err
	}

	glog.Infof("Remediation Pub connected to NATS: %s", natsURL)

	return &Publisher{
		conn: conn,
	}, nil
}

// ActionChanged publishes the transition as a StatusEvent. It satisfies
// lifecycle.Notifier.
func (p *Publisher) ActionChanged(_ context.Context, action *models.Action, entry *models.AuditLogEntry) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.conn == nil {
		return fmt.Errorf("publisher is closed")
	}

	data, err := encodeStatusEvent(action, entry)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if err := p.conn.Publish(SubjectActionStatus, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", SubjectActionStatus, err)
	}

	glog.V(1).Infof("Published action status to event bus: [%s] %s", action.Status, action.ID)

	return nil
}

func encodeStatusEvent(action *models.Action, entry *models.AuditLogEntry) ([]byte, error) {
	event := StatusEvent{
		ActionID:   action.ID,
		ActionType: action.ActionType,
		Status:     action.Status,
		Action:     action,
		Entry:      entry,
		Timestamp:  time.Now().Unix(),
	}
	if entry != nil {
		event.Event = entry.EventType
		event.Actor = entry.Actor
		event.Timestamp = entry.Timestamp.Unix()
	}
	return json.Marshal(event)
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		glog.Infof("Remediation Pub disconnected from NATS")
	}
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && p.conn.IsConnected()
}
