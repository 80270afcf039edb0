package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oabridge/depositd/pkg/cri"
	"github.com/oabridge/depositd/pkg/errclass"
	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/status"
)

func (d *Dispatcher) refreshLoop(ctx context.Context) {
	defer d.wg.Done()
	logger := log.WithComponent("refresh")

	ticker := time.NewTicker(d.registry.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.RefreshAll(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("refresh cycle failed")
			}
		}
	}
}

// RefreshAll runs one refresh cycle: every deposit still in the submitted
// state gets a probe job scheduled for it.
func (d *Dispatcher) RefreshAll(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RefreshDuration)
	metrics.RefreshCyclesTotal.Inc()

	deposits, err := d.critical.Store().ListDepositsByStatus(ctx, model.DepositSubmitted)
	if err != nil {
		return fmt.Errorf("failed to enumerate submitted deposits: %w", err)
	}

	logger := log.WithComponent("refresh")
	logger.Debug().Int("deposits", len(deposits)).Msg("refresh cycle")

	for _, dep := range deposits {
		depositID := dep.ID
		if err := d.schedule(ctx, func(ctx context.Context) {
			if err := d.RefreshDeposit(ctx, depositID); err != nil {
				log.WithDeposit(depositID).Debug().Err(err).Msg("status refresh failed")
			}
		}); err != nil {
			return err
		}
	}

	// Deposits that failed with a retryable kind get another attempt.
	failed, err := d.critical.Store().ListDepositsByStatus(ctx, model.DepositFailed)
	if err != nil {
		return fmt.Errorf("failed to enumerate failed deposits: %w", err)
	}
	for _, dep := range failed {
		if !errclass.Kind(dep.ErrorKind).Retryable() {
			continue
		}
		if err := d.RetryDeposit(ctx, dep.ID); err != nil {
			logger.Debug().Str("deposit_id", dep.ID).Err(err).Msg("failed to reschedule deposit")
		}
	}
	return nil
}

// RefreshDeposit resolves the current status of one deposit. Probes are
// idempotent: an unknown result leaves the deposit untouched. Terminal
// repository copy statuses reported by the target take precedence over the
// probe.
func (d *Dispatcher) RefreshDeposit(ctx context.Context, depositID string) error {
	store := d.critical.Store()

	dep, err := store.GetDeposit(ctx, depositID)
	if err != nil {
		return fmt.Errorf("failed to load deposit: %w", err)
	}
	if dep.Status.Terminal() {
		return nil
	}

	if next, ok := d.copyOutcome(ctx, dep); ok {
		return d.transition(ctx, dep, next)
	}

	if dep.StatusRef == "" {
		return nil
	}
	rc, err := d.registry.Get(dep.Repository)
	if err != nil {
		return err
	}
	mapping := status.Mapping(rc.Deposit.Processing.StatusMapping)
	followRedirect := rc.Transport.Sword != nil && rc.Transport.Sword.FollowRedirects

	result, err := d.resolver.Probe(ctx, dep.StatusRef, mapping, followRedirect)
	if err != nil {
		return err
	}
	next, ok := result.DepositStatus()
	if !ok {
		return nil
	}
	return d.transition(ctx, dep, next)
}

// copyOutcome inspects the deposit's repository copy and maps a terminal
// copy status onto the deposit.
func (d *Dispatcher) copyOutcome(ctx context.Context, dep *model.Deposit) (model.DepositStatus, bool) {
	if dep.RepositoryCopy == "" {
		return "", false
	}
	rcopy, err := d.critical.Store().GetRepositoryCopy(ctx, dep.RepositoryCopy)
	if err != nil {
		log.WithDeposit(dep.ID).Debug().Err(err).Msg("failed to load repository copy")
		return "", false
	}
	switch rcopy.Status {
	case model.CopyComplete:
		return model.DepositAccepted, true
	case model.CopyRejected:
		return model.DepositRejected, true
	}
	return "", false
}

// transition commits a probe outcome onto the deposit, updates the copy to
// match, and rolls the submission's aggregated status up.
func (d *Dispatcher) transition(ctx context.Context, dep *model.Deposit, next model.DepositStatus) error {
	committed, err := d.critical.PerformDeposit(ctx, dep.ID,
		func(cur *model.Deposit) bool { return cur.Status.CanTransition(next) },
		func(cur *model.Deposit) { cur.Status = next },
		func(cur *model.Deposit) bool { return cur.Status == next },
	)
	if errors.Is(err, cri.ErrPreconditionFailed) {
		// Another worker already moved the deposit; nothing to do.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to transition deposit to %s: %w", next, err)
	}

	log.WithDeposit(dep.ID).Info().
		Str("status", string(next)).
		Msg("deposit status resolved")

	if err := d.reconcileCopy(ctx, committed); err != nil {
		log.WithDeposit(dep.ID).Warn().Err(err).Msg("failed to reconcile repository copy")
	}
	if err := d.rollUpSubmission(ctx, committed.Submission); err != nil {
		log.WithSubmission(committed.Submission).Warn().Err(err).Msg("failed to roll up submission status")
	}
	return nil
}

// reconcileCopy aligns the repository copy with the deposit's terminal
// status.
func (d *Dispatcher) reconcileCopy(ctx context.Context, dep *model.Deposit) error {
	if dep.RepositoryCopy == "" {
		return nil
	}
	store := d.critical.Store()
	rcopy, err := store.GetRepositoryCopy(ctx, dep.RepositoryCopy)
	if err != nil {
		return err
	}

	var want model.CopyStatus
	switch dep.Status {
	case model.DepositAccepted:
		want = model.CopyComplete
	case model.DepositRejected:
		want = model.CopyRejected
	default:
		return nil
	}
	if rcopy.Status == want {
		return nil
	}
	rcopy.Status = want
	_, err = store.UpdateRepositoryCopy(ctx, rcopy)
	return err
}

// rollUpSubmission recomputes the submission's aggregated status from its
// deposits: complete when every deposit accepted, needs-attention when any
// deposit ended rejected or failed, in-progress otherwise.
func (d *Dispatcher) rollUpSubmission(ctx context.Context, submissionID string) error {
	deposits, err := d.critical.Store().ListDepositsBySubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if len(deposits) == 0 {
		return nil
	}

	next := model.AggregatedComplete
	for _, dep := range deposits {
		switch dep.Status {
		case model.DepositRejected, model.DepositFailed:
			next = model.AggregatedNeedsAttention
		case model.DepositAccepted:
		default:
			if next != model.AggregatedNeedsAttention {
				next = model.AggregatedInProgress
			}
		}
	}

	_, err = d.critical.PerformSubmission(ctx, submissionID,
		func(s *model.Submission) bool { return true },
		func(s *model.Submission) { s.Status = next },
		func(s *model.Submission) bool { return s.Status == next },
	)
	return err
}
