package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxAttempts bounds redelivery of an event whose send failed
const maxAttempts = 3

// Sender delivers one event
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, ev Event) error

func (f SenderFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Recorder observes delivery results
type Recorder interface {
	RecordNotification(delivered bool)
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	RatePerSecond float64
	Burst         int
	PollInterval  time.Duration
	// IsEmpty reports whether a Dequeue error means the queue is drained
	IsEmpty func(error) bool
}

// Dispatcher drains the queue at a bounded rate and hands events to senders
type Dispatcher struct {
	queue    Queue
	senders  []Sender
	limiter  *rate.Limiter
	poll     time.Duration
	isEmpty  func(error) bool
	recorder Recorder
	logger   *zap.Logger
}

func NewDispatcher(q Queue, cfg DispatcherConfig, logger *zap.Logger, senders ...Sender) *Dispatcher {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	isEmpty := cfg.IsEmpty
	if isEmpty == nil {
		isEmpty = func(err error) bool { return err != nil }
	}
	return &Dispatcher{
		queue:   q,
		senders: senders,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		poll:    cfg.PollInterval,
		isEmpty: isEmpty,
		logger:  logger,
	}
}

// SetRecorder attaches delivery metrics
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// Run drains the queue every poll interval until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		if _, err := d.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("Notification drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain delivers everything currently queued and returns how many events
// were handled
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	var retry []Event
	n := 0
	defer func() {
		for _, ev := range retry {
			d.requeue(ev)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		raw, err := d.queue.Dequeue(QueueName)
		if err != nil {
			if d.isEmpty(err) {
				return n, nil
			}
			return n, err
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.logger.Warn("Dropping malformed notification", zap.Error(err))
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			retry = append(retry, ev)
			return n, err
		}

		n++
		if err := d.deliver(ctx, ev); err != nil {
			ev.Attempts++
			if ev.Attempts < maxAttempts {
				retry = append(retry, ev)
			} else {
				d.logger.Warn("Giving up on notification",
					zap.String("event_id", ev.ID),
					zap.String("type", ev.Type),
					zap.Error(err),
				)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range d.senders {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if d.recorder != nil {
		d.recorder.RecordNotification(err == nil)
	}
	return err
}

func (d *Dispatcher) requeue(ev Event) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = d.queue.Enqueue(QueueName, data)
	}
	if err != nil {
		d.logger.Error("Failed to requeue notification", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

// LogSender writes events to the log
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(_ context.Context, ev Event) error {
	l.logger.Info("Notification",
		zap.String("type", ev.Type),
		zap.String("user_id", ev.UserID),
		zap.String("subject", ev.Subject),
		zap.Any("data", ev.Data),
	)
	return nil
}
