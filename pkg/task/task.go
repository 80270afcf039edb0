package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/cri"
	"github.com/oabridge/depositd/pkg/errclass"
	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/packager"
	"github.com/oabridge/depositd/pkg/registry"
	"github.com/oabridge/depositd/pkg/transport"
)

// TransportFactory resolves the adapter for a protocol. Tests substitute
// their own; production uses transport.ForProtocol.
type TransportFactory func(p transport.Protocol) (transport.Transport, error)

// Runner executes deposit tasks.
type Runner struct {
	critical   *cri.Critical
	builder    *builder.Builder
	registry   *registry.Registry
	opener     packager.Opener
	transports TransportFactory
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(critical *cri.Critical, b *builder.Builder, reg *registry.Registry, opener packager.Opener) *Runner {
	return &Runner{
		critical:   critical,
		builder:    b,
		registry:   reg,
		opener:     opener,
		transports: transport.ForProtocol,
	}
}

// WithTransportFactory replaces the adapter lookup, for tests.
func (r *Runner) WithTransportFactory(f TransportFactory) *Runner {
	r.transports = f
	return r
}

// Run executes the deposit with the given id. The returned error is for the
// caller's log only; the outcome has already been recorded on the Deposit.
func (r *Runner) Run(ctx context.Context, depositID string) error {
	metrics.DepositTasksActive.Inc()
	defer metrics.DepositTasksActive.Dec()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DepositDuration)

	deposit, err := r.critical.Store().GetDeposit(ctx, depositID)
	if err != nil {
		return fmt.Errorf("failed to load deposit %s: %w", depositID, err)
	}

	logger := log.WithDeposit(depositID).With().
		Str("submission_id", deposit.Submission).
		Str("repository", deposit.Repository).
		Logger()

	// Claim the deposit. Losing the race to another worker is a clean
	// no-op, not a failure.
	claimed, err := r.critical.PerformDeposit(ctx, depositID,
		func(d *model.Deposit) bool {
			return d.Status == model.DepositNone || d.Status == model.DepositFailed
		},
		func(d *model.Deposit) {
			d.Status = model.DepositSubmitted
			d.ErrorKind = ""
			d.ErrorMessage = ""
		},
		func(d *model.Deposit) bool { return d.Status == model.DepositSubmitted },
	)
	if errors.Is(err, cri.ErrPreconditionFailed) {
		logger.Debug().Msg("deposit already claimed by another worker")
		metrics.DepositsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim deposit %s: %w", depositID, err)
	}

	if err := r.attempt(ctx, claimed, logger); err != nil {
		kind := errclass.Classify(err)
		logger.Error().Err(err).Str("kind", string(kind)).Msg("deposit failed")
		r.recordFailure(ctx, claimed, kind, err)
		metrics.DepositsTotal.WithLabelValues("failure").Inc()
		return err
	}

	logger.Info().Msg("deposit transferred")
	metrics.DepositsTotal.WithLabelValues("success").Inc()
	return nil
}

// attempt runs steps 3-9: model, package, session, send, record. Typed
// errors flow out unclassified; Run classifies once.
func (r *Runner) attempt(ctx context.Context, deposit *model.Deposit, logger zerolog.Logger) error {
	rc, err := r.registry.Get(deposit.Repository)
	if err != nil {
		return err
	}

	depositModel, err := r.builder.Build(ctx, deposit.Submission)
	if err != nil {
		return err
	}

	assembler, err := packager.ForSpec(rc.Assembler.Options.Spec, r.opener)
	if err != nil {
		return err
	}
	stream, err := assembler.Assemble(depositModel, assemblerOptions(rc, depositModel))
	if err != nil {
		return err
	}
	defer stream.Close()

	tr, err := r.transports(transport.Protocol(rc.Transport.Protocol))
	if err != nil {
		return err
	}
	session, err := tr.Open(ctx, TransportHints(&rc.Transport))
	if err != nil {
		return err
	}
	defer session.Close()

	receipt, err := session.Send(ctx, stream)
	if err != nil {
		return err
	}

	copyID, err := r.createCopy(ctx, deposit)
	if err != nil {
		return err
	}

	_, err = r.critical.PerformDeposit(ctx, deposit.ID,
		func(d *model.Deposit) bool { return d.Status == model.DepositSubmitted },
		func(d *model.Deposit) {
			d.StatusRef = receipt.StatusRef
			d.RepositoryCopy = copyID
		},
		func(d *model.Deposit) bool { return d.RepositoryCopy == copyID },
	)
	if err != nil {
		return fmt.Errorf("failed to record deposit receipt: %w", err)
	}

	if receipt.Location != "" {
		logger.Debug().Str("location", receipt.Location).Msg("package stored at target")
	}
	return nil
}

func (r *Runner) createCopy(ctx context.Context, deposit *model.Deposit) (string, error) {
	rc := &model.RepositoryCopy{
		ID:         uuid.NewString(),
		Submission: deposit.Submission,
		Repository: deposit.Repository,
		Status:     model.CopyInProgress,
	}
	created, err := r.critical.Store().CreateRepositoryCopy(ctx, rc)
	if err != nil {
		return "", fmt.Errorf("failed to create repository copy: %w", err)
	}
	return created.ID, nil
}

// recordFailure stores the classified outcome on the Deposit. An internal
// failure additionally flags the submission for operator attention. Storage
// errors here are logged and dropped: the original failure is what matters.
func (r *Runner) recordFailure(ctx context.Context, deposit *model.Deposit, kind errclass.Kind, cause error) {
	if kind == errclass.KindTransportNetwork || kind == errclass.KindTransportServerError {
		metrics.TransportFailuresTotal.WithLabelValues(string(kind)).Inc()
	}

	_, err := r.critical.PerformDeposit(ctx, deposit.ID,
		func(d *model.Deposit) bool { return !d.Status.Terminal() || d.Status == model.DepositFailed },
		func(d *model.Deposit) {
			d.Status = model.DepositFailed
			d.ErrorKind = string(kind)
			d.ErrorMessage = cause.Error()
		},
		func(d *model.Deposit) bool { return d.Status == model.DepositFailed },
	)
	if err != nil {
		log.WithDeposit(deposit.ID).Error().Err(err).Msg("failed to record deposit failure")
	}

	if kind != errclass.KindInternal {
		return
	}
	_, err = r.critical.PerformSubmission(ctx, deposit.Submission,
		func(s *model.Submission) bool { return true },
		func(s *model.Submission) { s.Status = model.AggregatedNeedsAttention },
		func(s *model.Submission) bool { return s.Status == model.AggregatedNeedsAttention },
	)
	if err != nil {
		log.WithSubmission(deposit.Submission).Error().Err(err).Msg("failed to flag submission for attention")
	}
}

func assemblerOptions(rc *registry.RepositoryConfig, m *builder.DepositModel) packager.Options {
	o := rc.Assembler.Options
	algos := make([]packager.Algo, len(o.Algorithms))
	for i, a := range o.Algorithms {
		algos[i] = packager.Algo(a)
	}
	return packager.Options{
		Spec:           o.Spec,
		Archive:        packager.Archive(o.Archive),
		Compression:    packager.Compression(o.Compression),
		Algorithms:     algos,
		SubmissionMeta: m.Metadata,
	}
}

// TransportHints maps a repository transport section onto session hints.
func TransportHints(t *registry.TransportConfig) transport.Hints {
	hints := transport.Hints{
		Protocol: transport.Protocol(t.Protocol),
		AuthMode: transport.AuthNone,
		Server:   t.Server,
		Port:     t.Port,
	}
	if realm, ok := t.BasicRealm(); ok {
		hints.AuthMode = transport.AuthUserPass
		hints.Username = realm.Username
		hints.Password = realm.Password
	}
	if t.FTP != nil {
		hints.FTP = &transport.FTPHints{
			TransferMode:  t.FTP.TransferMode,
			DataType:      t.FTP.DataType,
			UsePasv:       t.FTP.UsePasv,
			BaseDirectory: t.FTP.BaseDirectory,
		}
	}
	if t.Sword != nil {
		sh := &transport.SwordHints{
			ServiceDocURL:        t.Sword.ServiceDocURL,
			DefaultCollectionURL: t.Sword.DefaultCollectionURL,
			OnBehalfOf:           t.Sword.OnBehalfOf,
		}
		for _, hint := range t.Sword.CollectionHints {
			sh.CollectionHints = append(sh.CollectionHints, transport.CollectionHint{Tag: hint.Tag, URL: hint.URL})
		}
		hints.Sword = sh
	}
	if t.Filesystem != nil {
		hints.Filesystem = &transport.FilesystemHints{
			BaseDirectory: t.Filesystem.BaseDirectory,
			Overwrite:     t.Filesystem.Overwrite,
		}
	}
	return hints
}
