package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/cri"
	"github.com/oabridge/depositd/pkg/errclass"
	"github.com/oabridge/depositd/pkg/model"
	"github.com/oabridge/depositd/pkg/packager"
	"github.com/oabridge/depositd/pkg/registry"
	"github.com/oabridge/depositd/pkg/sotclient"
	"github.com/oabridge/depositd/pkg/transport"
)

const taskConfig = `
agent-name: depositd-test
repositories:
  archive:
    transport-config:
      protocol: filesystem
      filesystem:
        base-directory: /var/tmp/depositd
    assembler:
      options:
        spec: simple-zip
        archive: zip
        compression: zip
        algorithms: [MD5]
`

type taskOpener map[string]string

func (o taskOpener) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	s, ok := o[uri]
	if !ok {
		return nil, fmt.Errorf("no content at %s", uri)
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

// fakeSession drains the package like a real transfer would, then returns a
// canned outcome.
type fakeSession struct {
	receipt *transport.Receipt
	err     error
	sent    int
}

func (s *fakeSession) Send(ctx context.Context, pkg *packager.PackageStream) (*transport.Receipt, error) {
	body, err := pkg.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, err
	}
	s.sent++
	if s.err != nil {
		return nil, s.err
	}
	return s.receipt, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeTransport struct {
	session *fakeSession
	openErr error
}

func (t *fakeTransport) Open(_ context.Context, _ transport.Hints) (transport.Session, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.session, nil
}

type fixture struct {
	store  *sotclient.Memory
	runner *Runner
	sub    *model.Submission
	dep    *model.Deposit
}

func newFixture(t *testing.T, session *fakeSession) *fixture {
	t.Helper()
	reg, err := registry.Parse([]byte(taskConfig))
	require.NoError(t, err)

	store := sotclient.NewMemory()
	submitter := store.PutUser(&model.User{DisplayName: "Jane Scholar", Email: "jane@example.org"})
	file := store.PutFile(&model.File{
		Name: "manuscript.pdf",
		Role: model.RoleManuscript,
		URI:  "u:ms",
	})
	sub := store.PutSubmission(&model.Submission{
		Submitted:   true,
		Source:      model.SourceUser,
		SubmitterID: submitter.ID,
		Files:       []string{file.ID},
		Status:      model.AggregatedInProgress,
	})
	dep := store.PutDeposit(&model.Deposit{
		Submission: sub.ID,
		Repository: "archive",
		Status:     model.DepositNone,
	})

	critical := cri.NewWithBudget(store, 3, 0)
	opener := taskOpener{"u:ms": "manuscript bytes"}
	runner := NewRunner(critical, builder.New(store), reg, opener).
		WithTransportFactory(func(p transport.Protocol) (transport.Transport, error) {
			return &fakeTransport{session: session}, nil
		})
	return &fixture{store: store, runner: runner, sub: sub, dep: dep}
}

func TestRunSuccess(t *testing.T) {
	session := &fakeSession{receipt: &transport.Receipt{
		StatusRef: "http://target/statement/1",
		Location:  "http://target/item/1",
	}}
	f := newFixture(t, session)

	require.NoError(t, f.runner.Run(context.Background(), f.dep.ID))
	assert.Equal(t, 1, session.sent)

	dep, err := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositSubmitted, dep.Status)
	assert.Equal(t, "http://target/statement/1", dep.StatusRef)
	assert.Empty(t, dep.ErrorKind)
	require.NotEmpty(t, dep.RepositoryCopy)

	rc, err := f.store.GetRepositoryCopy(context.Background(), dep.RepositoryCopy)
	require.NoError(t, err)
	assert.Equal(t, model.CopyInProgress, rc.Status)
	assert.Equal(t, f.sub.ID, rc.Submission)
	assert.Equal(t, "archive", rc.Repository)
}

func TestRunRetryClearsError(t *testing.T) {
	session := &fakeSession{receipt: &transport.Receipt{StatusRef: "http://target/statement/1"}}
	f := newFixture(t, session)

	seeded, err := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, err)
	seeded.Status = model.DepositFailed
	seeded.ErrorKind = string(errclass.KindTransportNetwork)
	seeded.ErrorMessage = "dial timed out"
	_, err = f.store.UpdateDeposit(context.Background(), seeded)
	require.NoError(t, err)

	require.NoError(t, f.runner.Run(context.Background(), f.dep.ID))

	dep, err := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DepositSubmitted, dep.Status)
	assert.Empty(t, dep.ErrorKind)
	assert.Empty(t, dep.ErrorMessage)
}

func TestRunSkipsClaimedDeposit(t *testing.T) {
	session := &fakeSession{receipt: &transport.Receipt{}}
	f := newFixture(t, session)

	seeded, err := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, err)
	seeded.Status = model.DepositSubmitted
	_, err = f.store.UpdateDeposit(context.Background(), seeded)
	require.NoError(t, err)

	require.NoError(t, f.runner.Run(context.Background(), f.dep.ID),
		"losing the claim is a clean no-op")
	assert.Equal(t, 0, session.sent)
}

func TestRunRecordsRejection(t *testing.T) {
	session := &fakeSession{err: &transport.RejectedError{
		Status: 412,
		URL:    "http://target/collection/2",
		Body:   "checksum mismatch",
	}}
	f := newFixture(t, session)

	err := f.runner.Run(context.Background(), f.dep.ID)
	require.Error(t, err)

	dep, getErr := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.DepositFailed, dep.Status)
	assert.Equal(t, string(errclass.KindTransportRejected), dep.ErrorKind)
	assert.Contains(t, dep.ErrorMessage, "checksum mismatch")

	// A rejection is not an internal failure; the submission is untouched.
	sub, getErr := f.store.GetSubmission(context.Background(), f.sub.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.AggregatedInProgress, sub.Status)
}

func TestRunInternalFailureFlagsSubmission(t *testing.T) {
	session := &fakeSession{err: errors.New("unexpected nil pointer")}
	f := newFixture(t, session)

	err := f.runner.Run(context.Background(), f.dep.ID)
	require.Error(t, err)

	dep, getErr := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.DepositFailed, dep.Status)
	assert.Equal(t, string(errclass.KindInternal), dep.ErrorKind)

	sub, getErr := f.store.GetSubmission(context.Background(), f.sub.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.AggregatedNeedsAttention, sub.Status)
}

func TestRunUnconfiguredRepository(t *testing.T) {
	session := &fakeSession{receipt: &transport.Receipt{}}
	f := newFixture(t, session)

	seeded, err := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, err)
	seeded.Repository = "nowhere"
	_, err = f.store.UpdateDeposit(context.Background(), seeded)
	require.NoError(t, err)

	err = f.runner.Run(context.Background(), f.dep.ID)
	require.Error(t, err)

	dep, getErr := f.store.GetDeposit(context.Background(), f.dep.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.DepositFailed, dep.Status)
	assert.Equal(t, string(errclass.KindConfiguration), dep.ErrorKind)
}

func TestTransportHints(t *testing.T) {
	tc := &registry.TransportConfig{
		Protocol: registry.ProtocolSword,
		AuthRealms: []registry.AuthRealm{
			{Mech: "basic", Username: "dspace-admin", Password: "foobar"},
		},
		Server: "dspace.example.org",
		Port:   443,
		Sword: &registry.SwordConfig{
			ServiceDocURL:        "https://dspace.example.org/swordv2/servicedocument",
			DefaultCollectionURL: "https://dspace.example.org/swordv2/collection/2",
			OnBehalfOf:           "depositor",
			CollectionHints: []registry.CollectionHint{
				{Tag: "covid", URL: "https://dspace.example.org/swordv2/collection/4"},
			},
		},
	}

	hints := TransportHints(tc)
	assert.Equal(t, transport.ProtocolSword, hints.Protocol)
	assert.Equal(t, transport.AuthUserPass, hints.AuthMode)
	assert.Equal(t, "dspace-admin", hints.Username)
	assert.Equal(t, "foobar", hints.Password)
	require.NotNil(t, hints.Sword)
	assert.Equal(t, "depositor", hints.Sword.OnBehalfOf)
	require.Len(t, hints.Sword.CollectionHints, 1)
	assert.Equal(t, "covid", hints.Sword.CollectionHints[0].Tag)

	plain := TransportHints(&registry.TransportConfig{
		Protocol:   registry.ProtocolFilesystem,
		Filesystem: &registry.FilesystemConfig{BaseDirectory: "/deposits"},
	})
	assert.Equal(t, transport.AuthNone, plain.AuthMode)
	require.NotNil(t, plain.Filesystem)
	assert.Equal(t, "/deposits", plain.Filesystem.BaseDirectory)
}
