package cri

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/sotclient"
)

func seedDeposit(store *sotclient.Memory, status model.DepositStatus) *model.Deposit {
	return store.PutDeposit(&model.Deposit{
		Submission: "sub-1",
		Repository: "pmc",
		Status:     status,
	})
}

func TestPerformDepositCommits(t *testing.T) {
	store := sotclient.NewMemory()
	dep := seedDeposit(store, model.DepositNone)
	c := New(store)

	committed, err := c.PerformDeposit(context.Background(), dep.ID,
		func(d *model.Deposit) bool { return d.Status == model.DepositNone },
		func(d *model.Deposit) { d.Status = model.DepositSubmitted },
		func(d *model.Deposit) bool { return d.Status == model.DepositSubmitted },
	)
	require.NoError(t, err)
	assert.Equal(t, model.DepositSubmitted, committed.Status)

	persisted, err := store.GetDeposit(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositSubmitted, persisted.Status)
}

func TestPerformDepositPreconditionFailed(t *testing.T) {
	store := sotclient.NewMemory()
	dep := seedDeposit(store, model.DepositSubmitted)
	c := New(store)

	_, err := c.PerformDeposit(context.Background(), dep.ID,
		func(d *model.Deposit) bool { return d.Status == model.DepositNone },
		func(d *model.Deposit) { d.Status = model.DepositSubmitted },
		func(d *model.Deposit) bool { return true },
	)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

// Two workers race to claim the same deposit: exactly one wins, the other
// fails its precondition, and the final status is submitted.
func TestPerformDepositClaimRace(t *testing.T) {
	store := sotclient.NewMemory()
	dep := seedDeposit(store, model.DepositNone)
	c := New(store)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.PerformDeposit(context.Background(), dep.ID,
				func(d *model.Deposit) bool { return d.Status == model.DepositNone },
				func(d *model.Deposit) { d.Status = model.DepositSubmitted },
				func(d *model.Deposit) bool { return d.Status == model.DepositSubmitted },
			)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else {
				assert.ErrorIs(t, err, ErrPreconditionFailed)
				losers++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	final, err := store.GetDeposit(context.Background(), dep.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositSubmitted, final.Status)
}

// conflictStore rejects the first n updates with ErrConflict regardless of
// etag, simulating intervening writers.
type conflictStore struct {
	*sotclient.Memory
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) UpdateDeposit(ctx context.Context, d *model.Deposit) (*model.Deposit, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return nil, sotclient.ErrConflict
	}
	s.mu.Unlock()
	// refresh the etag so the write goes through after the retry re-read
	cur, err := s.Memory.GetDeposit(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	d.ETag = cur.ETag
	return s.Memory.UpdateDeposit(ctx, d)
}

func TestPerformDepositRetriesOnConflict(t *testing.T) {
	mem := sotclient.NewMemory()
	dep := seedDeposit(mem, model.DepositNone)
	store := &conflictStore{Memory: mem, conflicts: 2}
	c := NewWithBudget(store, 5, time.Millisecond)

	committed, err := c.PerformDeposit(context.Background(), dep.ID,
		func(d *model.Deposit) bool { return !d.Status.Terminal() },
		func(d *model.Deposit) { d.Status = model.DepositSubmitted },
		func(d *model.Deposit) bool { return d.Status == model.DepositSubmitted },
	)
	require.NoError(t, err)
	assert.Equal(t, model.DepositSubmitted, committed.Status)
}

func TestPerformDepositBudgetExhausted(t *testing.T) {
	mem := sotclient.NewMemory()
	dep := seedDeposit(mem, model.DepositNone)
	store := &conflictStore{Memory: mem, conflicts: 100}
	c := NewWithBudget(store, 3, time.Millisecond)

	_, err := c.PerformDeposit(context.Background(), dep.ID,
		func(d *model.Deposit) bool { return true },
		func(d *model.Deposit) { d.Status = model.DepositSubmitted },
		func(d *model.Deposit) bool { return true },
	)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestPerformSubmission(t *testing.T) {
	store := sotclient.NewMemory()
	sub := store.PutSubmission(&model.Submission{Submitted: true, Source: model.SourceUser})
	c := New(store)

	committed, err := c.PerformSubmission(context.Background(), sub.ID,
		func(s *model.Submission) bool { return true },
		func(s *model.Submission) { s.Status = model.AggregatedComplete },
		func(s *model.Submission) bool { return s.Status == model.AggregatedComplete },
	)
	require.NoError(t, err)
	assert.Equal(t, model.AggregatedComplete, committed.Status)
}

func TestPerformDepositNotFound(t *testing.T) {
	c := New(sotclient.NewMemory())
	_, err := c.PerformDeposit(context.Background(), "missing",
		func(d *model.Deposit) bool { return true },
		func(d *model.Deposit) {},
		func(d *model.Deposit) bool { return true },
	)
	assert.ErrorIs(t, err, sotclient.ErrNotFound)
}
