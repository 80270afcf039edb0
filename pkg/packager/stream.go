package packager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oabridge/depositd/pkg/metrics"
)

// Archive selects the container format of a package.
type Archive string

const (
	ArchiveNone Archive = "none"
	ArchiveTar  Archive = "tar"
	ArchiveZip  Archive = "zip"
)

// Compression selects the compression applied to the container.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZip  Compression = "zip"
)

// Algo names a checksum algorithm.
type Algo string

const (
	MD5    Algo = "MD5"
	SHA256 Algo = "SHA-256"
	SHA512 Algo = "SHA-512"
)

// Checksum is one finalized digest of an entry or package.
type Checksum struct {
	Algo Algo
	Hex  string
}

// Resource describes one logical entry inside a package. Checksums are
// attached when the entry has been fully written.
type Resource struct {
	Name      string
	Size      int64
	Checksums []Checksum
}

// Checksum returns the digest computed with the given algorithm, if any.
func (r *Resource) Checksum(algo Algo) (Checksum, bool) {
	for _, c := range r.Checksums {
		if c.Algo == algo {
			return c, true
		}
	}
	return Checksum{}, false
}

// Metadata describes the package as a whole.
type Metadata struct {
	// Name is the package file name, e.g. "nihms-native_abc123.tar.gz".
	Name string
	// Spec is the packaging profile URI.
	Spec string
	// Mime is the content type of the package bytes.
	Mime string
	// Size is the package byte length, or -1 when unknown up front.
	Size int64

	Archive     Archive
	Compression Compression

	// SubmissionMeta is the submission-meta blob, verbatim JSON.
	SubmissionMeta string

	Created time.Time
}

// ErrCancelled is recorded on the pipe when assembly observes cancellation.
var ErrCancelled = errors.New("assembly cancelled")

// ErrAlreadyOpened guards the single-read contract.
var ErrAlreadyOpened = errors.New("package stream already opened")

// AssemblyError wraps a failure inside the producer so the consumer sees
// the original cause across the pipe boundary.
type AssemblyError struct {
	Op    string
	Cause error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed during %s: %v", e.Op, e.Cause)
}

func (e *AssemblyError) Unwrap() error { return e.Cause }

// pipeBufferSize bounds the producer/consumer decoupling buffer.
const pipeBufferSize = 1 << 20

// producerFunc writes the whole package to w. It runs on its own goroutine
// and must honor ctx at every blocking point.
type producerFunc func(ctx context.Context, w io.Writer) error

// PackageStream is a lazy, single-read package byte source.
type PackageStream struct {
	meta    Metadata
	produce producerFunc

	mu        sync.Mutex
	opened    bool
	resources []*Resource
	reader    *pipeReader
}

func newStream(meta Metadata, produce producerFunc) *PackageStream {
	return &PackageStream{meta: meta, produce: produce}
}

// Metadata returns the package description.
func (p *PackageStream) Metadata() Metadata { return p.meta }

// Resources returns the entries written so far. After the stream has been
// fully consumed it describes the complete package.
func (p *PackageStream) Resources() []*Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Resource, len(p.resources))
	copy(out, p.resources)
	return out
}

func (p *PackageStream) addResource(r *Resource) {
	p.mu.Lock()
	p.resources = append(p.resources, r)
	p.mu.Unlock()
}

// Open starts the producer and returns the read end of the pipe. It may be
// called exactly once; the returned reader must be closed on every exit
// path, which also stops the producer.
func (p *PackageStream) Open(ctx context.Context) (io.ReadCloser, error) {
	p.mu.Lock()
	if p.opened {
		p.mu.Unlock()
		return nil, ErrAlreadyOpened
	}
	p.opened = true
	p.mu.Unlock()

	prodCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	buffered := bufio.NewWriterSize(pw, pipeBufferSize)

	go func() {
		err := p.produce(prodCtx, buffered)
		if err == nil {
			err = buffered.Flush()
		}
		if err != nil {
			if prodCtx.Err() != nil && !errors.Is(err, ErrCancelled) {
				err = fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	reader := &pipeReader{r: pr, cancel: cancel}
	p.mu.Lock()
	p.reader = reader
	p.mu.Unlock()
	return reader, nil
}

// Close releases the stream. When the stream has been opened this cancels
// the producer and closes the pipe; closing an unopened stream is a no-op.
func (p *PackageStream) Close() error {
	p.mu.Lock()
	reader := p.reader
	p.mu.Unlock()
	if reader == nil {
		return nil
	}
	return reader.Close()
}

// pipeReader counts consumed bytes and cancels the producer on Close.
type pipeReader struct {
	r      *io.PipeReader
	cancel context.CancelFunc
	closed sync.Once
}

func (pr *pipeReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		metrics.PackageBytesTotal.Add(float64(n))
	}
	return n, err
}

func (pr *pipeReader) Close() error {
	var err error
	pr.closed.Do(func() {
		pr.cancel()
		err = pr.r.Close()
	})
	return err
}
