// Package watcher consumes part-dispatched notices and polls the blob
// store for each part's completion marker. When the marker lands it merges
// the part and, through the shared merge-and-check pass, finalizes the
// commit once every part is done. Converters signal completion only by
// writing the marker; this service is the side that watches for it.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/txsuite/pipeline-be/internal/callback"
	"github.com/txsuite/pipeline-be/internal/registry"
	"github.com/txsuite/pipeline-be/shared/blobstore"
	"github.com/txsuite/pipeline-be/shared/rabbitmq"
)

const markerFile = "finished"

// ErrPartExpired reports that a part's completion marker never appeared
// before its deadline. Expired parts are not requeued; the commit stays
// incomplete and the per-part job record keeps its last known state.
var ErrPartExpired = errors.New("part expired before completion marker appeared")

// Config holds watcher configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Store         blobstore.Store
	Merger        *callback.Merger
	Concurrency   int
	PrefetchCount int
	PollInterval  time.Duration
	PollMaxWait   time.Duration
}

// Watcher is the background service that waits for completion markers.
type Watcher struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        blobstore.Store
	merger       *callback.Merger

	watcherID     string
	concurrency   int
	prefetchCount int
	pollInterval  time.Duration
	pollMaxWait   time.Duration

	noticesChan chan *partMessage
	wg          sync.WaitGroup
	stopChan    chan struct{}
}

// partMessage pairs a parsed notice with its delivery tag for ACK/NACK.
type partMessage struct {
	Notice      registry.PartNotice
	DeliveryTag uint64
}

// NewWatcher creates a new watcher instance
func NewWatcher(cfg *Config) *Watcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = cfg.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollMaxWait <= 0 {
		cfg.PollMaxWait = time.Minute
	}

	return &Watcher{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		store:         cfg.Store,
		merger:        cfg.Merger,
		watcherID:     fmt.Sprintf("watcher-%s", uuid.New().String()[:8]),
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		pollInterval:  cfg.PollInterval,
		pollMaxWait:   cfg.PollMaxWait,
		noticesChan:   make(chan *partMessage, cfg.Concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming notices and blocks until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting watcher",
		slog.String("watcher_id", w.watcherID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWatcherPool(ctx)
	w.startNoticeDispatcher(ctx, deliveries)

	w.logger.Info("Watcher context canceled, stopping...")
	return nil
}

// Stop gracefully stops the watcher
func (w *Watcher) Stop() {
	w.logger.Info("Stopping watcher...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Watcher stopped")
}

// setupConsumer sets QoS and returns the delivery channel for the watch queue.
func (w *Watcher) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.rabbitClient.Consume(w.watcherID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Notice consumer started",
		slog.String("consumer_tag", w.watcherID),
	)
	return deliveries, nil
}

// startNoticeDispatcher reads deliveries and hands parsed notices to the pool.
// It blocks until the context is canceled or the channel closes.
func (w *Watcher) startNoticeDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Notice dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var notice registry.PartNotice
			if err := json.Unmarshal(delivery.Body, &notice); err != nil {
				w.logger.Error("Failed to parse notice JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed notice",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}
			if notice.Identifier == "" || notice.ResultsKey == "" {
				w.logger.Error("Notice missing identifier or results key",
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK invalid notice",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg := &partMessage{Notice: notice, DeliveryTag: delivery.DeliveryTag}

			select {
			case w.noticesChan <- msg:
				w.logger.Debug("Notice dispatched to pool",
					slog.String("identifier", notice.Identifier),
				)
			case <-ctx.Done():
				w.logger.Info("Notice dispatcher stopped while dispatching")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK notice on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

// spawnWatcherPool spawns N goroutines that each poll one part at a time.
func (w *Watcher) spawnWatcherPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.watcherLoop(ctx, i)
	}
	w.logger.Info("Watcher pool spawned",
		slog.Int("pool_size", w.concurrency),
	)
}

func (w *Watcher) watcherLoop(ctx context.Context, num int) {
	defer w.wg.Done()

	name := fmt.Sprintf("%s-%d", w.watcherID, num)

	for {
		select {
		case <-w.stopChan:
			return

		case <-ctx.Done():
			return

		case msg, ok := <-w.noticesChan:
			if !ok {
				return
			}

			err := w.watchPart(ctx, &msg.Notice)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("No RabbitMQ channel for ACK/NACK",
					slog.String("watcher_name", name),
					slog.String("identifier", msg.Notice.Identifier),
				)
				continue
			}

			if err != nil {
				w.logger.Error("Part watch failed",
					slog.String("watcher_name", name),
					slog.String("identifier", msg.Notice.Identifier),
					slog.String("error", err.Error()),
				)
				requeue := !errors.Is(err, ErrPartExpired)
				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK notice",
						slog.String("error", nackErr.Error()),
					)
				}
			} else {
				if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
					w.logger.Error("Failed to ACK notice",
						slog.String("error", ackErr.Error()),
					)
				}
			}
		}
	}
}

// watchPart polls for the part's completion marker until it appears or the
// notice's deadline passes, then runs one merge-and-check pass for the
// owning commit. Returning nil from the merge pass while parts remain
// incomplete is normal; a later part's watch finishes the commit.
func (w *Watcher) watchPart(ctx context.Context, notice *registry.PartNotice) error {
	deadline := notice.ExpiresAt
	if !deadline.IsZero() && time.Now().After(deadline) {
		return fmt.Errorf("%w: %s", ErrPartExpired, notice.Identifier)
	}

	found, err := w.awaitMarker(ctx, notice)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrPartExpired, notice.Identifier)
	}

	w.logger.Info("Completion marker found",
		slog.String("identifier", notice.Identifier),
		slog.String("results_key", notice.ResultsKey),
	)

	masterKey := notice.MasterKey
	if masterKey == "" {
		masterKey = notice.ResultsKey
	}

	final, err := w.merger.MergeAndCheck(ctx, masterKey, notice.Identifier)
	if err != nil {
		return err
	}
	if final != nil {
		w.logger.Info("Commit finalized",
			slog.String("master_key", masterKey),
			slog.String("status", final.Status),
		)
	}
	return nil
}

// awaitMarker polls the store with exponential backoff until the marker
// exists, the deadline passes, or the context ends.
func (w *Watcher) awaitMarker(ctx context.Context, notice *registry.PartNotice) (bool, error) {
	key := notice.ResultsKey + "/" + markerFile

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.pollInterval
	policy.MaxInterval = w.pollMaxWait
	if !notice.ExpiresAt.IsZero() {
		policy.MaxElapsedTime = time.Until(notice.ExpiresAt)
	}

	var found bool
	notYet := errors.New("marker not present")
	op := func() error {
		ok, err := w.store.Exists(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return notYet
		}
		found = true
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, notYet) {
			return false, nil
		}
		return false, err
	}
	return found, nil
}
