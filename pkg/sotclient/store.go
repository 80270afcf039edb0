package sotclient

import (
	"context"
	"errors"

	"github.com/oabridge/depositd/pkg/model"
)

var (
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a compare-and-set write was rejected because
	// another writer committed an intervening change.
	ErrConflict = errors.New("compare-and-set conflict")
)

// Store is the engine's view of the source-of-truth repository.
//
// Update methods are compare-and-set: the resource's ETag (captured at read
// time) must still match or ErrConflict is returned. Create methods assign
// the identifier when empty and return the stored resource with its ETag.
type Store interface {
	// Submissions
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	UpdateSubmission(ctx context.Context, s *model.Submission) (*model.Submission, error)

	// Deposits
	GetDeposit(ctx context.Context, id string) (*model.Deposit, error)
	CreateDeposit(ctx context.Context, d *model.Deposit) (*model.Deposit, error)
	UpdateDeposit(ctx context.Context, d *model.Deposit) (*model.Deposit, error)
	ListDepositsBySubmission(ctx context.Context, submissionID string) ([]*model.Deposit, error)
	ListDepositsByStatus(ctx context.Context, status model.DepositStatus) ([]*model.Deposit, error)

	// Repository copies
	GetRepositoryCopy(ctx context.Context, id string) (*model.RepositoryCopy, error)
	CreateRepositoryCopy(ctx context.Context, rc *model.RepositoryCopy) (*model.RepositoryCopy, error)
	UpdateRepositoryCopy(ctx context.Context, rc *model.RepositoryCopy) (*model.RepositoryCopy, error)

	// Read-only metadata graph
	GetRepository(ctx context.Context, id string) (*model.Repository, error)
	GetFile(ctx context.Context, id string) (*model.File, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetGrant(ctx context.Context, id string) (*model.Grant, error)
	GetPublication(ctx context.Context, id string) (*model.Publication, error)
	GetJournal(ctx context.Context, id string) (*model.Journal, error)
	GetPublisher(ctx context.Context, id string) (*model.Publisher, error)

	Close() error
}
