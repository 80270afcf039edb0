package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oabridge/depositd/pkg/cri"
	"github.com/oabridge/depositd/pkg/events"
	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/registry"
	"github.com/oabridge/depositd/pkg/status"
	"github.com/oabridge/depositd/pkg/task"
)

// job is one unit of work for the pool.
type job func(ctx context.Context)

// Dispatcher owns the worker pool and both control loops.
type Dispatcher struct {
	registry *registry.Registry
	critical *cri.Critical
	runner   *task.Runner
	resolver *status.Resolver
	source   events.Source
	filter   *events.Filter

	queue chan job

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New wires a Dispatcher. source may be nil when only the refresh loop is
// wanted (the refresh and retry commands).
func New(reg *registry.Registry, critical *cri.Critical, runner *task.Runner, resolver *status.Resolver, source events.Source, filter *events.Filter) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		critical: critical,
		runner:   runner,
		resolver: resolver,
		source:   source,
		filter:   filter,
		queue:    make(chan job, reg.Workers()*4),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool, the ingest loop and the refresh loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	workers := d.registry.Workers()
	log.WithComponent("dispatcher").Info().
		Int("workers", workers).
		Dur("refresh_interval", d.registry.RefreshInterval()).
		Msg("starting dispatcher")

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	if d.source != nil {
		d.wg.Add(1)
		go d.ingestLoop(ctx)
	}
	d.wg.Add(1)
	go d.refreshLoop(ctx)
	return nil
}

// Stop waits for in-flight work to finish, bounded by the configured
// shutdown wait. Cancellation of the Start context drives the actual
// unwinding; Stop only bounds the drain.
func (d *Dispatcher) Stop() {
	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.WithComponent("dispatcher").Info().Msg("dispatcher drained")
	case <-time.After(d.registry.ShutdownWait()):
		log.WithComponent("dispatcher").Warn().
			Dur("waited", d.registry.ShutdownWait()).
			Msg("shutdown wait elapsed with workers still busy")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case j := <-d.queue:
			metrics.QueueDepth.Dec()
			j(ctx)
		}
	}
}

// schedule places a job on the bounded queue, blocking while it is full.
func (d *Dispatcher) schedule(ctx context.Context, j job) error {
	select {
	case d.queue <- j:
		metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return fmt.Errorf("dispatcher stopping")
	}
}

func (d *Dispatcher) ingestLoop(ctx context.Context) {
	defer d.wg.Done()
	logger := log.WithComponent("ingest")

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		delivery, err := d.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("event source failed, stopping ingest")
			return
		}

		submissionID, ok := d.filter.Accept(ctx, delivery.Event)
		if !ok {
			if err := delivery.Ack(); err != nil {
				logger.Warn().Err(err).Msg("failed to ack rejected event")
			}
			continue
		}

		if err := d.ScheduleSubmission(ctx, submissionID); err != nil {
			// Leave the event unacknowledged; the broker redelivers it.
			logger.Warn().Str("submission_id", submissionID).Err(err).
				Msg("failed to schedule submission, leaving event on queue")
			continue
		}
		if err := delivery.Ack(); err != nil {
			logger.Warn().Err(err).Msg("failed to ack scheduled event")
		}
	}
}

// ScheduleSubmission expands a submission into one deposit task per target
// repository and queues them. An existing non-failed deposit for a
// (submission, repository) pair is not duplicated.
func (d *Dispatcher) ScheduleSubmission(ctx context.Context, submissionID string) error {
	store := d.critical.Store()

	sub, err := store.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission: %w", err)
	}

	existing, err := store.ListDepositsBySubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("failed to list deposits: %w", err)
	}
	byRepo := make(map[string]*model.Deposit, len(existing))
	for _, dep := range existing {
		if dep.Status != model.DepositFailed {
			byRepo[dep.Repository] = dep
		}
	}

	logger := log.WithSubmission(submissionID)
	for _, repoID := range sub.Repositories {
		repo, err := store.GetRepository(ctx, repoID)
		if err != nil {
			return fmt.Errorf("failed to resolve repository %s: %w", repoID, err)
		}
		if _, err := d.registry.Get(repo.Key); err != nil {
			logger.Warn().Str("repository", repo.Key).
				Msg("no configuration for target repository, skipping")
			continue
		}
		if dep, ok := byRepo[repo.Key]; ok {
			logger.Debug().Str("repository", repo.Key).Str("deposit_id", dep.ID).
				Msg("deposit already exists, not duplicating")
			continue
		}

		dep, err := store.CreateDeposit(ctx, &model.Deposit{
			ID:         uuid.NewString(),
			Submission: submissionID,
			Repository: repo.Key,
			Status:     model.DepositNone,
		})
		if err != nil {
			return fmt.Errorf("failed to create deposit for %s: %w", repo.Key, err)
		}

		depositID := dep.ID
		if err := d.schedule(ctx, func(ctx context.Context) {
			if err := d.runner.Run(ctx, depositID); err != nil {
				log.WithDeposit(depositID).Debug().Err(err).Msg("deposit task finished with error")
			}
		}); err != nil {
			return err
		}
		logger.Info().Str("repository", repo.Key).Str("deposit_id", depositID).
			Msg("deposit task scheduled")
	}
	return nil
}

// RetryDeposit moves a failed deposit back to none and schedules it again.
func (d *Dispatcher) RetryDeposit(ctx context.Context, depositID string) error {
	_, err := d.critical.PerformDeposit(ctx, depositID,
		func(dep *model.Deposit) bool { return dep.Status == model.DepositFailed },
		func(dep *model.Deposit) {
			dep.Status = model.DepositNone
			dep.ErrorKind = ""
			dep.ErrorMessage = ""
		},
		func(dep *model.Deposit) bool { return dep.Status == model.DepositNone },
	)
	if err != nil {
		return fmt.Errorf("failed to reset deposit %s: %w", depositID, err)
	}
	return d.schedule(ctx, func(ctx context.Context) {
		if err := d.runner.Run(ctx, depositID); err != nil {
			log.WithDeposit(depositID).Debug().Err(err).Msg("deposit retry finished with error")
		}
	})
}
