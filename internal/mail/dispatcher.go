// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/pkg/errutil"
)

// Recorder receives delivery metrics. *observability.Metrics implements it.
type Recorder interface {
	RecordMail(kind, outcome string)
	SetMailQueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordMail(string, string) {}
func (nopRecorder) SetMailQueueDepth(int)     {}

// Delivery outcomes reported to the Recorder.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	MaxRetries  uint64
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   256,
		Workers:     2,
		MaxRetries:  3,
		RetryDelay:  500 * time.Millisecond,
		SendTimeout: 30 * time.Second,
	}
}

type job struct {
	ctx context.Context
	msg Message
}

// Dispatcher implements account.Notifier by rendering account emails and
// delivering them from a bounded queue on background workers. Enqueueing never
// blocks: when the queue is full the message is dropped and counted.
type Dispatcher struct {
	mailer   Mailer
	renderer *Renderer
	cfg      DispatcherConfig
	logger   *slog.Logger
	recorder Recorder

	mu     sync.RWMutex
	closed bool
	queue  chan job

	// stop aborts in-flight retries once Close gives up waiting.
	stopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// DispatcherOption configures optional Dispatcher dependencies.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

var _ account.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher and starts its workers.
func NewDispatcher(mailer Mailer, renderer *Renderer, cfg DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if mailer == nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("mailer is required")
	}
	if renderer == nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("renderer is required")
	}
	defaults := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}

	stopCtx, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		mailer:   mailer,
		renderer: renderer,
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		queue:    make(chan job, cfg.QueueSize),
		stopCtx:  stopCtx,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	return d, nil
}

// VerificationRequested implements account.Notifier.
func (d *Dispatcher) VerificationRequested(ctx context.Context, user *account.User, token string) {
	d.notify(ctx, KindVerification, user.Email, Data{Name: user.DisplayName(), Email: user.Email, Token: token})
}

// PasswordResetRequested implements account.Notifier.
func (d *Dispatcher) PasswordResetRequested(ctx context.Context, user *account.User, token string) {
	d.notify(ctx, KindPasswordReset, user.Email, Data{Name: user.DisplayName(), Email: user.Email, Token: token})
}

// EmailChangeRequested implements account.Notifier. The confirmation goes to
// the current address.
func (d *Dispatcher) EmailChangeRequested(ctx context.Context, user *account.User, newEmail, token string) {
	d.notify(ctx, KindEmailChange, user.Email, Data{
		Name:     user.DisplayName(),
		Email:    user.Email,
		NewEmail: newEmail,
		Token:    token,
	})
}

// PasswordChanged implements account.Notifier.
func (d *Dispatcher) PasswordChanged(ctx context.Context, user *account.User) {
	d.notify(ctx, KindPasswordChanged, user.Email, Data{Name: user.DisplayName(), Email: user.Email})
}

func (d *Dispatcher) notify(ctx context.Context, kind Kind, to string, data Data) {
	msg, err := d.renderer.Render(kind, to, data)
	if err != nil {
		errutil.LogError(ctx, d.logger, "failed to render account email", err, "kind", string(kind))
		d.recorder.RecordMail(string(kind), OutcomeFailed)
		return
	}
	d.enqueue(ctx, msg)
}

// enqueue detaches the message from the caller's cancellation, keeping its
// values for trace correlation.
func (d *Dispatcher) enqueue(ctx context.Context, msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.WarnContext(ctx, "mail dispatcher closed, dropping message", "kind", msg.Kind)
		d.recorder.RecordMail(string(msg.Kind), OutcomeDropped)
		return
	}

	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), msg: msg}:
		d.recorder.SetMailQueueDepth(len(d.queue))
	default:
		d.logger.WarnContext(ctx, "mail queue full, dropping message",
			"kind", msg.Kind,
			"queue_size", cap(d.queue))
		d.recorder.RecordMail(string(msg.Kind), OutcomeDropped)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.recorder.SetMailQueueDepth(len(d.queue))
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := mergeCancel(j.ctx, d.stopCtx)
	defer cancel()

	attempts := 0
	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		if err := d.mailer.Send(sendCtx, j.msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	kind := string(j.msg.Kind)
	if err != nil {
		d.logger.WarnContext(j.ctx, "account email delivery failed",
			"kind", kind,
			"attempts", attempts,
			"error", err)
		d.recorder.RecordMail(kind, OutcomeFailed)
		return
	}
	d.recorder.RecordMail(kind, OutcomeSent)
}

// Close stops accepting messages and waits for queued ones to be delivered.
// If ctx ends first, in-flight retries are abandoned and Close returns once
// the workers exit.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return oops.Code("MAIL_CLOSE_TIMEOUT").
			With("pending", len(d.queue)).
			Wrap(ctx.Err())
	}
}

// mergeCancel returns a context carrying parent's values that is canceled
// when either parent or stop is done.
func mergeCancel(parent, stop context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	release := context.AfterFunc(stop, cancel)
	return ctx, func() {
		release()
		cancel()
	}
}
