package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oabridge/depositd/pkg/packager"
)

// FilesystemTransport writes packages into a local directory. Used for
// archival targets and in tests.
type FilesystemTransport struct{}

func (t *FilesystemTransport) Open(ctx context.Context, hints Hints) (Session, error) {
	fh := hints.Filesystem
	if fh == nil {
		return nil, fmt.Errorf("filesystem transport opened without filesystem hints")
	}
	dir := fh.BaseDirectory
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create deposit directory %s: %w", dir, err)
	}
	return &filesystemSession{dir: dir, overwrite: fh.Overwrite}, nil
}

type filesystemSession struct {
	dir       string
	overwrite bool
	tainted   bool
}

func (s *filesystemSession) Send(ctx context.Context, pkg *packager.PackageStream) (*Receipt, error) {
	if s.tainted {
		return nil, ErrSessionTainted
	}

	dest := filepath.Join(s.dir, filepath.FromSlash(pkg.Metadata().Name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !s.overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	out, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create package file: %w", err)
	}

	body, err := pkg.Open(ctx)
	if err != nil {
		out.Close()
		os.Remove(dest)
		return nil, err
	}

	_, cpErr := io.Copy(out, body)
	body.Close()
	if err := out.Close(); cpErr == nil {
		cpErr = err
	}
	if cpErr != nil {
		// Leave no partial package behind.
		s.tainted = true
		os.Remove(dest)
		return nil, &NetworkError{Op: "write " + dest, Cause: cpErr}
	}
	return &Receipt{Location: dest}, nil
}

func (s *filesystemSession) Close() error { return nil }
