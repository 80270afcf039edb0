package cri

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/sotclient"
)

var (
	// ErrPreconditionFailed is returned when the precondition does not
	// hold against the freshly read resource. This is the clean loser
	// outcome of two workers racing for the same deposit.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrPostconditionFailed is returned when the committed state does
	// not satisfy the postcondition.
	ErrPostconditionFailed = errors.New("postcondition failed")

	// ErrBudgetExhausted is returned when every compare-and-set attempt
	// within the retry budget was rejected by an intervening writer.
	ErrBudgetExhausted = errors.New("compare-and-set retry budget exhausted")
)

// Resource is the tagged union of the two durable resources the engine
// writes. Exactly one field is non-nil.
type Resource struct {
	Deposit    *model.Deposit
	Submission *model.Submission
}

// ID returns the identifier of whichever member is set.
func (r Resource) ID() string {
	switch {
	case r.Deposit != nil:
		return r.Deposit.ID
	case r.Submission != nil:
		return r.Submission.ID
	}
	return ""
}

// Critical performs read-modify-write cycles against the source-of-truth
// repository with a bounded retry budget.
type Critical struct {
	store   sotclient.Store
	budget  int
	backoff time.Duration
}

// New creates a Critical with the default budget (5 attempts, 250 ms linear
// backoff between them).
func New(store sotclient.Store) *Critical {
	return &Critical{store: store, budget: 5, backoff: 250 * time.Millisecond}
}

// NewWithBudget overrides the attempt budget and backoff step.
func NewWithBudget(store sotclient.Store, budget int, step time.Duration) *Critical {
	return &Critical{store: store, budget: budget, backoff: step}
}

// PerformDeposit runs one critical cycle against a Deposit.
//
// pre and post are pure predicates; modify mutates the passed copy only.
// The returned deposit is the committed state.
func (c *Critical) PerformDeposit(
	ctx context.Context,
	id string,
	pre func(*model.Deposit) bool,
	modify func(*model.Deposit),
	post func(*model.Deposit) bool,
) (*model.Deposit, error) {
	res, err := c.perform(ctx, Resource{Deposit: &model.Deposit{ID: id}},
		func(r Resource) bool { return pre(r.Deposit) },
		func(r Resource) { modify(r.Deposit) },
		func(r Resource) bool { return post(r.Deposit) },
	)
	if err != nil {
		return nil, err
	}
	return res.Deposit, nil
}

// PerformSubmission runs one critical cycle against a Submission.
func (c *Critical) PerformSubmission(
	ctx context.Context,
	id string,
	pre func(*model.Submission) bool,
	modify func(*model.Submission),
	post func(*model.Submission) bool,
) (*model.Submission, error) {
	res, err := c.perform(ctx, Resource{Submission: &model.Submission{ID: id}},
		func(r Resource) bool { return pre(r.Submission) },
		func(r Resource) { modify(r.Submission) },
		func(r Resource) bool { return post(r.Submission) },
	)
	if err != nil {
		return nil, err
	}
	return res.Submission, nil
}

func (c *Critical) perform(
	ctx context.Context,
	target Resource,
	pre func(Resource) bool,
	modify func(Resource),
	post func(Resource) bool,
) (Resource, error) {
	logger := log.WithComponent("cri")
	id := target.ID()

	for attempt := 0; attempt < c.budget; attempt++ {
		if attempt > 0 {
			metrics.CRIRetriesTotal.Inc()
			// linear backoff between conflicting attempts
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return Resource{}, ctx.Err()
			}
		}

		cur, err := c.read(ctx, target)
		if err != nil {
			return Resource{}, fmt.Errorf("failed to read %s: %w", id, err)
		}

		if !pre(cur) {
			return Resource{}, fmt.Errorf("resource %s: %w", id, ErrPreconditionFailed)
		}

		modify(cur)

		committed, err := c.write(ctx, cur)
		if errors.Is(err, sotclient.ErrConflict) {
			logger.Debug().Str("resource_id", id).Int("attempt", attempt+1).
				Msg("compare-and-set rejected, refreshing")
			continue
		}
		if err != nil {
			return Resource{}, fmt.Errorf("failed to write %s: %w", id, err)
		}

		if !post(committed) {
			return Resource{}, fmt.Errorf("resource %s: %w", id, ErrPostconditionFailed)
		}
		return committed, nil
	}
	return Resource{}, fmt.Errorf("resource %s: %w", id, ErrBudgetExhausted)
}

func (c *Critical) read(ctx context.Context, target Resource) (Resource, error) {
	switch {
	case target.Deposit != nil:
		d, err := c.store.GetDeposit(ctx, target.Deposit.ID)
		if err != nil {
			return Resource{}, err
		}
		return Resource{Deposit: d}, nil
	case target.Submission != nil:
		s, err := c.store.GetSubmission(ctx, target.Submission.ID)
		if err != nil {
			return Resource{}, err
		}
		return Resource{Submission: s}, nil
	}
	return Resource{}, errors.New("empty resource union")
}

func (c *Critical) write(ctx context.Context, r Resource) (Resource, error) {
	switch {
	case r.Deposit != nil:
		d, err := c.store.UpdateDeposit(ctx, r.Deposit)
		if err != nil {
			return Resource{}, err
		}
		return Resource{Deposit: d}, nil
	case r.Submission != nil:
		s, err := c.store.UpdateSubmission(ctx, r.Submission)
		if err != nil {
			return Resource{}, err
		}
		return Resource{Submission: s}, nil
	}
	return Resource{}, errors.New("empty resource union")
}

// Store exposes the underlying store for read-only collaborators.
func (c *Critical) Store() sotclient.Store { return c.store }
