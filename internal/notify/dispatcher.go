package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"eventhub/internal/domain"
	"eventhub/internal/repository"
)

// ErrDispatcherStopped is returned when work is handed to a dispatcher that
// is not running.
var ErrDispatcherStopped = errors.New("dispatcher not running")

// Dispatcher delivers outbox notifications through a mail transport.
type Dispatcher interface {
	Start(ctx context.Context) error
	Shutdown()
	// Enqueue schedules delivery of a stored notification and returns
	// without waiting for it.
	Enqueue(ctx context.Context, id int64) error
	// Resume re-schedules every notification still pending in the outbox.
	Resume(ctx context.Context) error
	// Deliver sends n right away and records the outcome.
	Deliver(ctx context.Context, n *domain.Notification) error
}

type Config struct {
	From          string
	MaxConcurrent int
	SendTimeout   time.Duration
	Logger        *logrus.Logger
}

type dispatcher struct {
	cfg       Config
	outbox    repository.NotificationRepository
	transport Transport

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[int64]struct{}
}

func NewDispatcher(cfg Config, outbox repository.NotificationRepository, transport Transport) Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &dispatcher{
		cfg:       cfg,
		outbox:    outbox,
		transport: transport,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		active:    make(map[int64]struct{}),
	}
}

func (d *dispatcher) Start(ctx context.Context) error {
	if d.transport == nil {
		return fmt.Errorf("mail transport is required")
	}
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()
	d.cfg.Logger.Infof("notification dispatcher started, %d workers", d.cfg.MaxConcurrent)
	return nil
}

func (d *dispatcher) Shutdown() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.cfg.Logger.Info("notification dispatcher stopped")
}

func (d *dispatcher) Enqueue(ctx context.Context, id int64) error {
	n, err := d.outbox.Get(ctx, id)
	if err != nil {
		return err
	}
	return d.spawn(*n)
}

func (d *dispatcher) Resume(ctx context.Context) error {
	pending, err := d.outbox.ListByStatuses(ctx, domain.NotificationStatusPending)
	if err != nil {
		return err
	}
	for i := range pending {
		if err := d.spawn(pending[i]); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		d.cfg.Logger.Infof("resumed %d pending notifications", len(pending))
	}
	return nil
}

func (d *dispatcher) spawn(n domain.Notification) error {
	d.mu.Lock()
	runCtx := d.ctx
	if runCtx == nil || runCtx.Err() != nil {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	if _, busy := d.active[n.ID]; busy {
		d.mu.Unlock()
		return nil
	}
	d.active[n.ID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.release(n.ID)
		select {
		case <-runCtx.Done():
			return
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
			_ = d.Deliver(runCtx, &n)
		}
	}()
	return nil
}

func (d *dispatcher) release(id int64) {
	d.mu.Lock()
	delete(d.active, id)
	d.mu.Unlock()
}

func (d *dispatcher) Deliver(ctx context.Context, n *domain.Notification) error {
	logger := d.cfg.Logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"kind":            n.Kind,
	})

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	sendErr := d.transport.Send(sendCtx, Envelope{
		From:    d.cfg.From,
		To:      []string{n.Recipient},
		Subject: n.Subject,
		Body:    n.Body,
	})

	// the outcome is recorded even when the caller's context is gone
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelRecord()

	if sendErr != nil {
		if err := d.outbox.MarkFailed(recordCtx, n.ID, sendErr.Error()); err != nil {
			logger.Errorf("persist failure status: %v", err)
		}
		logger.Warnf("delivery to %s failed: %v", n.Recipient, sendErr)
		return sendErr
	}

	if err := d.outbox.MarkSent(recordCtx, n.ID, time.Now()); err != nil {
		logger.Warnf("mark sent: %v", err)
	}
	logger.Debugf("delivered to %s", n.Recipient)
	return nil
}

var _ Dispatcher = (*dispatcher)(nil)
