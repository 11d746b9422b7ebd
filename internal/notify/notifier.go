// Package notify delivers operator alerts (settlement outcomes, blocked
// swaps) to chat webhooks. Delivery is asynchronous and best effort: callers
// on the request path only enqueue.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Event types emitted by the settlement path.
const (
	EventSwapCompleted = "swap_completed"
	EventSwapFailed    = "swap_failed"
	EventRiskRejected  = "risk_rejected"
)

const (
	defaultQueueSize = 64
	sendTimeout      = 15 * time.Second
)

// ErrQueueFull is returned by Notify when the delivery queue is saturated.
var ErrQueueFull = errors.New("notify: queue full")

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type notification struct {
	event   string
	title   string
	message string
}

// Notifier fans notifications out to every Sender from a single worker,
// paced by a token bucket so a burst of rejections cannot flood a webhook.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty allows all
	queue   chan notification
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events listed in events are
// forwarded; an empty list forwards everything. perMinute <= 0 disables
// pacing.
func NewNotifier(senders []Sender, events []string, perMinute int, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan notification, defaultQueueSize),
		limiter: limiter,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify queues a notification if its event type is allowed. It never
// blocks.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	select {
	case n.queue <- notification{event: event, title: title, message: message}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if err := n.dispatch(sendCtx, msg); err != nil {
				n.logger.WarnContext(ctx, "notification delivery incomplete",
					slog.String("event", msg.event),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, msg notification) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg.title, msg.message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.event),
		)
	}
	return errors.Join(errs...)
}
