package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamSingleOpen(t *testing.T) {
	stream := newStream(Metadata{Name: "p"}, func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	})

	body, err := stream.Open(context.Background())
	require.NoError(t, err)
	defer body.Close()

	_, err = stream.Open(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyOpened)
}

func TestStreamProducerErrorReachesConsumer(t *testing.T) {
	cause := errors.New("custodial source vanished")
	stream := newStream(Metadata{Name: "p"}, func(ctx context.Context, w io.Writer) error {
		if _, err := w.Write([]byte("partial")); err != nil {
			return err
		}
		return &AssemblyError{Op: "read file.pdf", Cause: cause}
	})

	body, err := stream.Open(context.Background())
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause, "the producer's original cause crosses the pipe")
	assert.Contains(t, err.Error(), "read file.pdf")
}

func TestStreamCancelledContext(t *testing.T) {
	blocked := make(chan struct{})
	stream := newStream(Metadata{Name: "p"}, func(ctx context.Context, w io.Writer) error {
		<-blocked
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	body, err := stream.Open(ctx)
	require.NoError(t, err)
	defer body.Close()

	cancel()
	close(blocked)

	_, err = io.ReadAll(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestStreamCloseStopsProducer(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})
	stream := newStream(Metadata{Name: "p"}, func(ctx context.Context, w io.Writer) error {
		close(started)
		for {
			if _, err := w.Write([]byte(strings.Repeat("x", 64<<10))); err != nil {
				close(stopped)
				return err
			}
			if ctx.Err() != nil {
				close(stopped)
				return ctx.Err()
			}
		}
	})

	body, err := stream.Open(context.Background())
	require.NoError(t, err)
	<-started

	require.NoError(t, body.Close())
	<-stopped
}

// A failing source surfaces through a real assembler as an AssemblyError
// carrying the root cause, and the consumer sees a failed read rather than
// a silently truncated archive.
func TestBrokenCustodialStream(t *testing.T) {
	cause := errors.New("connection reset mid-read")
	opener := failingOpener{err: cause}

	m := nihmsModel()
	m.Files = m.Files[:1]
	a := NewSimpleZipAssembler(opener)

	stream, err := a.Assemble(m, Options{Archive: ArchiveZip, Compression: CompressionZip})
	require.NoError(t, err)
	defer stream.Close()

	body, err := stream.Open(context.Background())
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	var asm *AssemblyError
	assert.ErrorAs(t, err, &asm)
}

// failingOpener yields readers that fail after a few bytes.
type failingOpener struct {
	err error
}

func (o failingOpener) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	return io.NopCloser(&failingReader{err: o.err}), nil
}

type failingReader struct {
	sent bool
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, []byte("partial")), nil
	}
	return 0, r.err
}

func TestDigester(t *testing.T) {
	d, err := newDigester([]Algo{MD5, SHA256, SHA512})
	require.NoError(t, err)

	var sink strings.Builder
	_, err = fmt.Fprint(d.tee(&sink), "hello")
	require.NoError(t, err)

	sums := d.sums()
	require.Len(t, sums, 3)
	assert.Equal(t, "hello", sink.String())
	assert.Equal(t, MD5, sums[0].Algo)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sums[0].Hex)
	assert.Equal(t, SHA256, sums[1].Algo)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sums[1].Hex)

	_, err = newDigester([]Algo{"CRC32"})
	assert.Error(t, err)
}

var _ Opener = mapOpener{}
