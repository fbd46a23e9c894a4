// Package notify announces finished runs over NATS so the bulk loader can
// pick up the artifacts.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/tripleforge/chunkvalidate"
	"github.com/c360studio/tripleforge/summary"
)

// DefaultSubjectPrefix is prepended to every event subject.
const DefaultSubjectPrefix = "tripleforge"

// Event types, also used as subject suffixes.
const (
	EventRunCompleted        = "run.completed"
	EventValidationCompleted = "validation.completed"
)

// Publisher sends raw messages.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// NATSPublisher publishes over a core NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	mu     sync.Mutex
	closed bool
}

// Connect dials the NATS server at url.
func Connect(url, name string, timeout time.Duration) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// Publish sends data and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.nc.Drain()
}

// Event is the message body.
type Event struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id,omitempty"`
	At          time.Time `json:"at"`
	Artifact    string    `json:"artifact,omitempty"`
	SummaryPath string    `json:"summary_path,omitempty"`
	Conforms    *bool     `json:"conforms,omitempty"`
	Statements  int64     `json:"statements,omitempty"`
	Malformed   int64     `json:"malformed,omitempty"`
	Chunks      int       `json:"chunks,omitempty"`
}

// Notifier turns run results into events. A nil *Notifier does nothing.
type Notifier struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// NewNotifier creates a Notifier publishing under prefix.
func NewNotifier(pub Publisher, prefix string, logger *slog.Logger) *Notifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, prefix: prefix, logger: logger}
}

// RunCompleted announces a finished combine run.
func (n *Notifier) RunCompleted(ctx context.Context, s *summary.RunSummary, summaryPath string) error {
	if n == nil {
		return nil
	}
	ev := Event{
		Type:        EventRunCompleted,
		RunID:       s.RunID,
		At:          s.FinishedAt,
		SummaryPath: summaryPath,
		Statements:  s.Totals.Total,
		Malformed:   s.Totals.Malformed,
	}
	if s.Combine != nil {
		ev.Artifact = s.Combine.Artifact()
	}
	return n.send(ctx, ev)
}

// ValidationCompleted announces a finished validation run.
func (n *Notifier) ValidationCompleted(ctx context.Context, v *chunkvalidate.Summary) error {
	if n == nil {
		return nil
	}
	conforms := v.Conforms
	return n.send(ctx, Event{
		Type:     EventValidationCompleted,
		At:       v.FinishedAt,
		Artifact: v.Input,
		Conforms: &conforms,
		Chunks:   v.Chunks,
	})
}

func (n *Notifier) send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := n.prefix + "." + ev.Type
	if err := n.pub.Publish(ctx, subject, data); err != nil {
		return err
	}
	n.logger.Debug("Published event", "subject", subject, "run_id", ev.RunID)
	return nil
}
