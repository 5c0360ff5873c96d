package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"

	"github.com/souravb-dev/GenAIOps-sub001/internal/lifecycle"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

const (
	SubjectApprove  = "remediation.actions.approve"
	SubjectExecute  = "remediation.actions.execute"
	SubjectCancel   = "remediation.actions.cancel"
	SubjectRollback = "remediation.actions.rollback"
)

// requestTimeout bounds the store work done for one bus request.
const requestTimeout = 30 * time.Second

// ActionRequest is the payload of every request subject.
type ActionRequest struct {
	ActionID    string `json:"action_id"`
	Actor       string `json:"actor"`
	Permissions string `json:"permissions"`
	Comment     string `json:"comment,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

func (r ActionRequest) actor() models.Actor {
	return models.Actor{ID: r.Actor, Permissions: models.ParsePermissions(r.Permissions)}
}

// ActionReply is sent back when the request carried a reply subject.
type ActionReply struct {
	Action    *models.Action `json:"action,omitempty"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// ActionProcessor is the subset of *lifecycle.Controller the subscriber drives.
type ActionProcessor interface {
	ApproveAction(ctx context.Context, id string, actor models.Actor, comment string) (*models.Action, error)
	ExecuteAction(ctx context.Context, id string, actor models.Actor, dryRun bool) (*models.Action, error)
	CancelAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error)
	RollbackAction(ctx context.Context, id string, actor models.Actor) (*models.Action, error)
}

type Subscriber struct {
	conn      *nats.Conn
	subs      []*nats.Subscription
	processor ActionProcessor
}

func NewSubscriber(natsURL string, processor ActionProcessor) (*Subscriber, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)

	if err != nil {
		return nil, err
	}

	glog.Infof("Connected to NATS at %s", natsURL)

	return newSubscriber(conn, processor), nil
}

func newSubscriber(conn *nats.Conn, processor ActionProcessor) *Subscriber {
	return &Subscriber{
		conn:      conn,
		processor: processor,
	}
}

func (s *Subscriber) Start() error {
	handlers := []struct {
		subject string
		handle  func(msg *nats.Msg)
	}{
		{SubjectApprove, s.handleApproveMessage},
		{SubjectExecute, s.handleExecuteMessage},
		{SubjectCancel, s.handleCancelMessage},
		{SubjectRollback, s.handleRollbackMessage},
	}

	for _, h := range handlers {
		glog.Infof("Subscribing to '%s'", h.subject)
		sub, err := s.conn.Subscribe(h.subject, h.handle)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
		glog.Infof("Subscribed to '%s'", h.subject)
	}

	return nil
}

func (s *Subscriber) handleApproveMessage(msg *nats.Msg) {
	s.handle(msg, "approval", func(ctx context.Context, req ActionRequest) (*models.Action, error) {
		return s.processor.ApproveAction(ctx, req.ActionID, req.actor(), req.Comment)
	})
}

func (s *Subscriber) handleExecuteMessage(msg *nats.Msg) {
	s.handle(msg, "execution", func(ctx context.Context, req ActionRequest) (*models.Action, error) {
		return s.processor.ExecuteAction(ctx, req.ActionID, req.actor(), req.DryRun)
	})
}

func (s *Subscriber) handleCancelMessage(msg *nats.Msg) {
	s.handle(msg, "cancellation", func(ctx context.Context, req ActionRequest) (*models.Action, error) {
		return s.processor.CancelAction(ctx, req.ActionID, req.actor())
	})
}

func (s *Subscriber) handleRollbackMessage(msg *nats.Msg) {
	s.handle(msg, "rollback", func(ctx context.Context, req ActionRequest) (*models.Action, error) {
		return s.processor.RollbackAction(ctx, req.ActionID, req.actor())
	})
}

func (s *Subscriber) handle(msg *nats.Msg, kind string, op func(context.Context, ActionRequest) (*models.Action, error)) ActionReply {
	glog.Infof("Received %s request from event bus (%d bytes)", kind, len(msg.Data))

	var request ActionRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		glog.Errorf("Failed to unmarshal %s request: %v", kind, err)
		reply := ActionReply{Error: fmt.Sprintf("invalid request: %v", err)}
		s.respond(msg, reply)
		return reply
	}

	glog.Infof("Processing action %s: %s (actor=%s)", kind, request.ActionID, request.Actor)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var reply ActionReply
	action, err := op(ctx, request)
	switch {
	case err != nil && lifecycle.IsRetryable(err):
		glog.Warningf("Action %s lost a race: %v", kind, err)
		reply = ActionReply{Error: err.Error(), Retryable: true}
	case err != nil:
		glog.Errorf("Action %s failed: %v", kind, err)
		reply = ActionReply{Error: err.Error()}
	default:
		glog.Infof("Action %s accepted: %s -> %s", kind, action.ID, action.Status)
		reply = ActionReply{Action: action}
	}

	s.respond(msg, reply)
	return reply
}

func (s *Subscriber) respond(msg *nats.Msg, reply ActionReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		glog.Errorf("Failed to marshal reply: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		glog.Errorf("Failed to send reply on %s: %v", msg.Reply, err)
	}
}

func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			glog.Warningf("Failed to unsubscribe from %s: %v", sub.Subject, err)
		}
	}
	s.subs = nil

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		glog.Infof("Disconnected from NATS")
	}
}

func (s *Subscriber) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}
