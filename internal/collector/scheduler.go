package collector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"aurora-vm-inspector/internal/model"
	"aurora-vm-inspector/internal/stream"
)

type Scheduler struct {
	logger       *slog.Logger
	poller       *Poller
	store        *Store
	sink         stream.Sink
	interval     time.Duration
	errorBackoff time.Duration
	batches      chan []model.InstanceSnapshot
}

func NewScheduler(
	logger *slog.Logger,
	poller *Poller,
	store *Store,
	sink stream.Sink,
	interval, errorBackoff time.Duration,
	bufferSize int,
) *Scheduler {
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Scheduler{
		logger:       logger,
		poller:       poller,
		store:        store,
		sink:         sink,
		interval:     interval,
		errorBackoff: errorBackoff,
		batches:      make(chan []model.InstanceSnapshot, bufferSize),
	}
}

// Run polls on every tick and forwards batches to the sink from a separate
// goroutine so a slow backend never delays polling.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runPollLoop(gctx)
	})
	g.Go(func() error {
		return s.runSendLoop(gctx)
	})
	return g.Wait()
}

func (s *Scheduler) runPollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.PollOnce(ctx); err != nil {
		s.logger.Warn("initial poll failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.PollOnce(ctx); err != nil {
				s.logger.Error("poll failed", "error", err)
				s.sleepWithContext(ctx, s.errorBackoff)
			}
		}
	}
}

// PollOnce runs a single cycle, updates the store and queues the batch.
func (s *Scheduler) PollOnce(ctx context.Context) error {
	snaps, err := s.poller.Poll(ctx)
	if err != nil {
		s.store.Fail(err)
		return err
	}
	added, removed := s.store.Replace(snaps, time.Now())
	sort.Strings(added)
	sort.Strings(removed)
	for _, name := range added {
		s.logger.Info("instance discovered", "instance", name)
	}
	for _, name := range removed {
		s.logger.Info("instance gone", "instance", name)
	}
	if len(snaps) == 0 {
		return nil
	}
	select {
	case s.batches <- snaps:
	default:
		s.logger.Warn("dropping snapshot batch because the send queue is full", "instances", len(snaps))
	}
	return nil
}

func (s *Scheduler) runSendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-s.batches:
			if err := s.sink.SendSnapshots(ctx, batch); err != nil {
				s.logger.Error("snapshot send failed", "error", err, "instances", len(batch))
				s.sleepWithContext(ctx, s.errorBackoff)
			}
		}
	}
}

func (s *Scheduler) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
