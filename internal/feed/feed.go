package feed

import (
	"context"
	"sync"

	"rsvp/internal/domain"
	"rsvp/internal/metrics"
	"rsvp/internal/models"
	"rsvp/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher fans change-log growth out to subscribers. The durable log
// is the source of truth: live notification is only a wake-up, every
// subscriber reads its own cursor out of the log, so a slow or
// disconnected consumer never loses an entry and never blocks a writer.
type Dispatcher struct {
	log     domain.ChangeLog
	offsets domain.OffsetRepository
	batch   int
	buffer  int
	retry   worker.RetryPolicy
	logger  *zerolog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

type Options struct {
	// Offsets is optional; without it Ack is a no-op and resume relies
	// on the caller passing ResumeFrom explicitly.
	Offsets      domain.OffsetRepository
	CatchupBatch int
	BufferSize   int
}

func NewDispatcher(log domain.ChangeLog, opts Options, logger *zerolog.Logger) *Dispatcher {
	if opts.CatchupBatch <= 0 {
		opts.CatchupBatch = models.DefaultCatchupBatch
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = models.DefaultFeedBuffer
	}
	return &Dispatcher{
		log:     log,
		offsets: opts.Offsets,
		batch:   opts.CatchupBatch,
		buffer:  opts.BufferSize,
		retry:   worker.DefaultReadPolicy(),
		logger:  logger,
		subs:    make(map[string]*Subscription),
	}
}

// SubscribeOptions controls where delivery starts. Precedence:
// ResumeFrom beats a stored consumer offset beats the live tail.
type SubscribeOptions struct {
	// Consumer is a durable name; its acked offset is looked up on
	// subscribe and updated by Ack. Empty means anonymous.
	Consumer string
	// ResumeFrom replays every change with sequence > ResumeFrom before
	// going live.
	ResumeFrom *int64
}

// Subscription is one listener's handle. Closing it releases all of its
// resources and leaves other subscribers and writers untouched.
type Subscription struct {
	ID       string
	consumer string

	d      *Dispatcher
	ch     chan models.Change
	signal chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

func (d *Dispatcher) Subscribe(ctx context.Context, opts SubscribeOptions) (*Subscription, error) {
	var since int64
	switch {
	case opts.ResumeFrom != nil:
		since = *opts.ResumeFrom
	case opts.Consumer != "" && d.offsets != nil:
		seq, ok, err := d.offsets.GetOffset(ctx, opts.Consumer)
		if err != nil {
			return nil, err
		}
		if ok {
			since = seq
			break
		}
		fallthrough
	default:
		tail, err := d.log.LatestSequence(ctx)
		if err != nil {
			return nil, err
		}
		since = tail
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ID:       uuid.NewString(),
		consumer: opts.Consumer,
		d:        d,
		ch:       make(chan models.Change, d.buffer),
		signal:   make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	d.subs[sub.ID] = sub
	count := len(d.subs)
	d.mu.Unlock()
	metrics.SetSubscribers(count)

	d.logger.Debug().
		Str("subscription", sub.ID).
		Str("consumer", opts.Consumer).
		Int64("since", since).
		Msg("feed subscriber registered")

	go sub.run(subCtx, since)
	return sub, nil
}

// Notify wakes subscribers after a successful append. It never blocks:
// a pending signal already covers the new sequence.
func (d *Dispatcher) Notify(seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (d *Dispatcher) drop(id string) {
	d.mu.Lock()
	delete(d.subs, id)
	count := len(d.subs)
	d.mu.Unlock()
	metrics.SetSubscribers(count)
}

// Subscribers returns the number of live subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Changes is the subscriber's delivery channel. It is closed when the
// subscription shuts down.
func (s *Subscription) Changes() <-chan models.Change {
	return s.ch
}

// Ack durably records the last processed sequence for this consumer.
// A consumer that acks lazily may see duplicates after a reconnect;
// delivery is at-least-once.
func (s *Subscription) Ack(ctx context.Context, seq int64) error {
	if s.consumer == "" || s.d.offsets == nil {
		return nil
	}
	return s.d.offsets.SetOffset(ctx, s.consumer, seq)
}

// Close cancels delivery and unregisters the subscription.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.d.drop(s.ID)
		<-s.done
		close(s.ch)
	})
}

// run drains the log from the subscription's own cursor. Catch-up and
// live delivery are the same loop: it reads batches until the log is
// exhausted and only then waits for a signal, so the subscriber always
// converges to the tail without gaps.
func (s *Subscription) run(ctx context.Context, since int64) {
	defer close(s.done)

	last := since
	for {
		var batch []models.Change
		err := s.d.retry.Do(ctx, func() error {
			var readErr error
			batch, readErr = s.d.log.ChangesSince(ctx, last, s.d.batch)
			return readErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.d.logger.Error().Err(err).Str("subscription", s.ID).Msg("feed catch-up read failed")
		}

		if len(batch) > 0 {
			for _, c := range batch {
				select {
				case s.ch <- c:
					last = c.Sequence
					metrics.IncFeedDelivery()
				case <-ctx.Done():
					return
				}
			}
			// More may already be appended; loop straight into the next read.
			continue
		}

		select {
		case <-s.signal:
		case <-ctx.Done():
			return
		}
	}
}
