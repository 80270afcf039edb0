package packager

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
)

// archiveWriter is the entry-oriented encoder shared by the assemblers.
// Entries are written strictly in order; each custodial source is read
// exactly once, forward only.
type archiveWriter interface {
	// WriteBytes writes a small in-memory entry (manifests, metadata).
	WriteBytes(name string, data []byte) (*Resource, error)
	// WriteStream writes one custodial entry from a single forward read.
	WriteStream(ctx context.Context, name string, src io.Reader) (*Resource, error)
	// Close finalizes the archive trailer and the compressor.
	Close() error
}

// ctxReader makes a blocking source read observe cancellation.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return cr.r.Read(p)
}

// tarArchive writes tar entries, optionally gzip-compressed.
//
// tar headers need the entry size up front, and custodial sources are
// forward-only streams of unknown length. Each custodial entry is spooled
// once to a temp file (hashing as it goes), then copied into the archive.
// The source itself is still read exactly once.
type tarArchive struct {
	algos []Algo
	gz    *gzip.Writer
	tw    *tar.Writer
	onAdd func(*Resource)
}

func newTarArchive(w io.Writer, compression Compression, algos []Algo, onAdd func(*Resource)) (*tarArchive, error) {
	a := &tarArchive{algos: algos, onAdd: onAdd}
	switch compression {
	case CompressionGzip:
		a.gz = gzip.NewWriter(w)
		a.tw = tar.NewWriter(a.gz)
	case CompressionNone:
		a.tw = tar.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported compression %q for tar archive", compression)
	}
	return a, nil
}

func (a *tarArchive) WriteBytes(name string, data []byte) (*Resource, error) {
	d, err := newDigester(a.algos)
	if err != nil {
		return nil, err
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}
	if err := a.tw.WriteHeader(hdr); err != nil {
		return nil, &AssemblyError{Op: "tar header " + name, Cause: err}
	}
	if _, err := d.tee(a.tw).Write(data); err != nil {
		return nil, &AssemblyError{Op: "tar entry " + name, Cause: err}
	}
	res := &Resource{Name: name, Size: int64(len(data)), Checksums: d.sums()}
	if a.onAdd != nil {
		a.onAdd(res)
	}
	return res, nil
}

func (a *tarArchive) WriteStream(ctx context.Context, name string, src io.Reader) (*Resource, error) {
	d, err := newDigester(a.algos)
	if err != nil {
		return nil, err
	}

	spool, err := os.CreateTemp("", "depositd-entry-*")
	if err != nil {
		return nil, &AssemblyError{Op: "spool " + name, Cause: err}
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	size, err := io.Copy(d.tee(spool), &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return nil, &AssemblyError{Op: "read " + name, Cause: err}
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, &AssemblyError{Op: "spool " + name, Cause: err}
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    size,
		ModTime: time.Now().UTC(),
	}
	if err := a.tw.WriteHeader(hdr); err != nil {
		return nil, &AssemblyError{Op: "tar header " + name, Cause: err}
	}
	if _, err := io.Copy(a.tw, spool); err != nil {
		return nil, &AssemblyError{Op: "tar entry " + name, Cause: err}
	}

	res := &Resource{Name: name, Size: size, Checksums: d.sums()}
	if a.onAdd != nil {
		a.onAdd(res)
	}
	return res, nil
}

func (a *tarArchive) Close() error {
	if err := a.tw.Close(); err != nil {
		return &AssemblyError{Op: "tar trailer", Cause: err}
	}
	if a.gz != nil {
		if err := a.gz.Close(); err != nil {
			return &AssemblyError{Op: "gzip trailer", Cause: err}
		}
	}
	return nil
}

// zipArchive writes zip entries. Zip records sizes in the data descriptor,
// so custodial entries stream straight through without spooling.
type zipArchive struct {
	algos  []Algo
	zw     *zip.Writer
	method uint16
	onAdd  func(*Resource)
}

func newZipArchive(w io.Writer, compression Compression, algos []Algo, onAdd func(*Resource)) (*zipArchive, error) {
	a := &zipArchive{algos: algos, zw: zip.NewWriter(w), onAdd: onAdd}
	switch compression {
	case CompressionZip:
		a.method = zip.Deflate
	case CompressionNone:
		a.method = zip.Store
	default:
		return nil, fmt.Errorf("unsupported compression %q for zip archive", compression)
	}
	return a, nil
}

func (a *zipArchive) create(name string) (io.Writer, error) {
	return a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   a.method,
		Modified: time.Now().UTC(),
	})
}

func (a *zipArchive) WriteBytes(name string, data []byte) (*Resource, error) {
	d, err := newDigester(a.algos)
	if err != nil {
		return nil, err
	}
	w, err := a.create(name)
	if err != nil {
		return nil, &AssemblyError{Op: "zip header " + name, Cause: err}
	}
	if _, err := d.tee(w).Write(data); err != nil {
		return nil, &AssemblyError{Op: "zip entry " + name, Cause: err}
	}
	res := &Resource{Name: name, Size: int64(len(data)), Checksums: d.sums()}
	if a.onAdd != nil {
		a.onAdd(res)
	}
	return res, nil
}

func (a *zipArchive) WriteStream(ctx context.Context, name string, src io.Reader) (*Resource, error) {
	d, err := newDigester(a.algos)
	if err != nil {
		return nil, err
	}
	w, err := a.create(name)
	if err != nil {
		return nil, &AssemblyError{Op: "zip header " + name, Cause: err}
	}
	size, err := io.Copy(d.tee(w), &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return nil, &AssemblyError{Op: "zip entry " + name, Cause: err}
	}
	res := &Resource{Name: name, Size: size, Checksums: d.sums()}
	if a.onAdd != nil {
		a.onAdd(res)
	}
	return res, nil
}

func (a *zipArchive) Close() error {
	if err := a.zw.Close(); err != nil {
		return &AssemblyError{Op: "zip trailer", Cause: err}
	}
	return nil
}
