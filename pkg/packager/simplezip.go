package packager

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/metrics"
)

// SimpleZipAssembler produces a flat zip archive with the custodial files
// at the root. No manifest or metadata entries are written.
type SimpleZipAssembler struct {
	opener Opener
}

// NewSimpleZipAssembler creates the assembler over the given content opener.
func NewSimpleZipAssembler(opener Opener) *SimpleZipAssembler {
	return &SimpleZipAssembler{opener: opener}
}

func (a *SimpleZipAssembler) Assemble(model *builder.DepositModel, opts Options) (*PackageStream, error) {
	if opts.Archive != ArchiveZip {
		return nil, fmt.Errorf("SimpleZip packages require a zip archive, got %q", opts.Archive)
	}

	names := remediate(model.Files)

	meta := Metadata{
		Name:           fmt.Sprintf("simple-zip_%s.zip", slug(model.SubmissionID)),
		Spec:           SpecSimpleZip,
		Mime:           "application/zip",
		Size:           -1,
		Archive:        ArchiveZip,
		Compression:    opts.Compression,
		SubmissionMeta: opts.SubmissionMeta,
		Created:        time.Now().UTC(),
	}

	var stream *PackageStream
	stream = newStream(meta, func(ctx context.Context, w io.Writer) error {
		aw, err := newZipArchive(w, opts.Compression, opts.Algorithms, stream.addResource)
		if err != nil {
			return err
		}
		if err := streamCustodial(ctx, aw, a.opener, model.Files, names, ""); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
		metrics.PackagesAssembledTotal.WithLabelValues(SpecSimpleZip).Inc()
		return nil
	})
	return stream, nil
}
