package registrar

import (
	"context"
	"sync"
	"sync/atomic"
)

// Notification carries a freshly issued token to the account holder.
type Notification struct {
	Email   string
	Kind    TokenPurpose
	Token   string
	Account string
}

// NotificationDispatcher hands notifications to a Notifier from a single
// background goroutine. Send never blocks: when the buffer is full the
// notification is dropped and counted.
type NotificationDispatcher struct {
	notifier  Notifier
	logger    Logger
	ch        chan Notification
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewNotificationDispatcher starts the delivery goroutine. Call Close to
// drain the buffer and stop it.
func NewNotificationDispatcher(notifier Notifier, bufferSize int, logger Logger) *NotificationDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if logger == nil {
		logger = defLogger{}
	}

	d := &NotificationDispatcher{
		notifier: notifier,
		logger:   logger,
		ch:       make(chan Notification, bufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *NotificationDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-d.done:
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *NotificationDispatcher) deliver(n Notification) {
	if err := d.notifier.Send(context.Background(), n); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification delivery failed kind=%s account=%s: %v", n.Kind, n.Account, err)
	}
}

// Send implements Notifier without blocking the caller.
func (d *NotificationDispatcher) Send(_ context.Context, n Notification) error {
	if d == nil {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn("notification dispatcher closed, dropped kind=%s account=%s", n.Kind, n.Account)
		return nil
	}

	select {
	case d.ch <- n:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification buffer full, dropped kind=%s account=%s", n.Kind, n.Account)
	}
	return nil
}

// Close stops accepting notifications, delivers what is buffered and waits.
func (d *NotificationDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		// no Send holds the read lock once closed is set, so nothing is
		// enqueued after the drain below starts
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many notifications were discarded on a full buffer or
// after Close.
func (d *NotificationDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns how many deliveries returned an error.
func (d *NotificationDispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

// LogNotifier writes a delivery line through a Logger. Useful for local
// development where no mail transport exists.
type LogNotifier struct {
	Logger Logger
}

func (l LogNotifier) Send(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("notification to=%s kind=%s account=%s ref=%s", n.Email, n.Kind, n.Account, tokenRef(n.Token))
	return nil
}

// tokenRef is a short digest prefix that lets operators match a log line to a
// stored token without the value itself.
func tokenRef(value string) string {
	if value == "" {
		return "-"
	}
	return HashTokenValue(value)[:12]
}
