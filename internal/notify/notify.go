package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fxmargin/internal/marketdata"
	"fxmargin/internal/model"
	"fxmargin/internal/types"
)

// EventNotification is the bus event type carrying a model.Notification.
const EventNotification = "notification"

type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// BusNotifier delivers notifications to the user's websocket subscribers.
type BusNotifier struct {
	bus *marketdata.Bus
}

func NewBusNotifier(bus *marketdata.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (b *BusNotifier) Notify(_ context.Context, n model.Notification) error {
	b.bus.Publish(marketdata.Event{Type: EventNotification, UserID: n.UserID, Data: n})
	return nil
}

type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(ctx context.Context, n model.Notification) error {
	level := slog.LevelInfo
	if n.Type != types.NotificationTrade {
		level = slog.LevelWarn
	}
	l.log.Log(ctx, level, "notification",
		"user_id", n.UserID,
		"type", string(n.Type),
		"title", n.Title,
		"message", n.Message,
	)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, next := range m {
		if err := next.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async hands each notification to a goroutine so callers never wait on
// delivery. Failures are logged.
type Async struct {
	next    Notifier
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewAsync(next Notifier, timeout time.Duration, log *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{next: next, timeout: timeout, log: log}
}

func (a *Async) Notify(ctx context.Context, n model.Notification) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(dctx, n); err != nil {
			a.log.Warn("notification delivery failed", "user_id", n.UserID, "type", string(n.Type), "err", err)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}

type Nop struct{}

func (Nop) Notify(context.Context, model.Notification) error { return nil }

// Recorder keeps every notification it receives. Safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	got []model.Notification
}

func (r *Recorder) Notify(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) All() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Notification(nil), r.got...)
}
