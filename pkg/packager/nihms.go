package packager

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/metrics"
)

// NihmsAssembler produces the NIHMS native bulk-submission package: a
// tar+gzip archive holding manifest.txt, bulk_meta.xml, and the custodial
// files in model order.
type NihmsAssembler struct {
	opener Opener
}

// NewNihmsAssembler creates the assembler over the given content opener.
func NewNihmsAssembler(opener Opener) *NihmsAssembler {
	return &NihmsAssembler{opener: opener}
}

func (a *NihmsAssembler) Assemble(model *builder.DepositModel, opts Options) (*PackageStream, error) {
	if opts.Archive != ArchiveTar {
		return nil, fmt.Errorf("NIHMS packages require a tar archive, got %q", opts.Archive)
	}
	if opts.Compression != CompressionGzip {
		return nil, fmt.Errorf("NIHMS packages require gzip compression, got %q", opts.Compression)
	}

	names := remediate(model.Files, nihmsManifestName, nihmsMetaName)
	labels, err := nihmsLabels(model.Files)
	if err != nil {
		return nil, err
	}

	manifest := buildNihmsManifest(model.Files, names, labels)
	bulkMeta, err := buildBulkMeta(model)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		Name:           fmt.Sprintf("nihms-native_%s.tar.gz", slug(model.SubmissionID)),
		Spec:           SpecNIHMS,
		Mime:           "application/gzip",
		Size:           -1,
		Archive:        ArchiveTar,
		Compression:    CompressionGzip,
		SubmissionMeta: opts.SubmissionMeta,
		Created:        time.Now().UTC(),
	}

	var stream *PackageStream
	stream = newStream(meta, func(ctx context.Context, w io.Writer) error {
		aw, err := newTarArchive(w, CompressionGzip, opts.Algorithms, stream.addResource)
		if err != nil {
			return err
		}
		if _, err := aw.WriteBytes(nihmsManifestName, manifest); err != nil {
			return err
		}
		if _, err := aw.WriteBytes(nihmsMetaName, bulkMeta); err != nil {
			return err
		}
		if err := streamCustodial(ctx, aw, a.opener, model.Files, names, ""); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
		metrics.PackagesAssembledTotal.WithLabelValues(SpecNIHMS).Inc()
		return nil
	})
	return stream, nil
}

// nihmsLabels assigns manifest labels. Labels for figure, table and
// supplement entries must be non-empty and unique within their type.
func nihmsLabels(files []builder.ModelFile) ([]string, error) {
	labels := make([]string, len(files))
	used := make(map[builder.FileType]map[string]bool)
	for i, f := range files {
		label := f.Label
		if label == "" {
			label, _ = splitExt(f.Name)
		}
		if label == "" {
			return nil, fmt.Errorf("custodial file %q has no usable label", f.Name)
		}
		if used[f.Type] == nil {
			used[f.Type] = make(map[string]bool)
		}
		if used[f.Type][label] {
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d", label, n)
				if !used[f.Type][candidate] {
					label = candidate
					break
				}
			}
		}
		used[f.Type][label] = true
		labels[i] = label
	}
	return labels, nil
}

// buildNihmsManifest renders the tab-separated manifest: one row for the
// metadata file, then one row per custodial file under its remediated name.
func buildNihmsManifest(files []builder.ModelFile, names, labels []string) []byte {
	var b strings.Builder
	b.WriteString("bulksub_meta_xml\tmetadata\t" + nihmsMetaName + "\n")
	for i, f := range files {
		b.WriteString(string(f.Type))
		b.WriteByte('\t')
		b.WriteString(labels[i])
		b.WriteByte('\t')
		b.WriteString(names[i])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// bulk_meta.xml document shape, per the BulkSubmission DTD.

type bulkSubmit struct {
	XMLName    xml.Name        `xml:"nihms-submit"`
	Manuscript bulkManuscript  `xml:"manuscript"`
	Journal    bulkJournalMeta `xml:"journal-meta"`
	Title      string          `xml:"manuscript-title"`
	Abstract   string          `xml:"abstract,omitempty"`
	Citation   *bulkCitation   `xml:"citation,omitempty"`
	Contacts   bulkContacts    `xml:"contacts"`
}

type bulkManuscript struct {
	ID          string `xml:"id,attr,omitempty"`
	DOI         string `xml:"doi,attr,omitempty"`
	EmbargoDate string `xml:"embargo-date,attr,omitempty"`
}

type bulkJournalMeta struct {
	JournalTitle string     `xml:"journal-title,omitempty"`
	NLMTA        string     `xml:"nlm-ta,omitempty"`
	ISSNs        []bulkISSN `xml:"issn"`
}

type bulkISSN struct {
	Type  string `xml:"issn-type,attr,omitempty"`
	Value string `xml:",chardata"`
}

type bulkCitation struct {
	Volume string `xml:"volume,attr,omitempty"`
	Issue  string `xml:"issue,attr,omitempty"`
}

type bulkContacts struct {
	Persons []bulkPerson `xml:"person"`
}

type bulkPerson struct {
	FirstName  string `xml:"fname,attr,omitempty"`
	MiddleName string `xml:"mname,attr,omitempty"`
	LastName   string `xml:"lname,attr,omitempty"`
	Email      string `xml:"email,attr,omitempty"`
	PersonType string `xml:"person-type,attr"`
}

func buildBulkMeta(model *builder.DepositModel) ([]byte, error) {
	doc := bulkSubmit{
		Manuscript: bulkManuscript{
			ID:  slug(model.SubmissionID),
			DOI: model.DOI,
		},
		Journal: bulkJournalMeta{
			JournalTitle: model.JournalTitle,
			NLMTA:        model.NLMTA,
		},
		Title:    model.Title,
		Abstract: model.Abstract,
	}
	if !model.EmbargoLiftDate.IsZero() {
		doc.Manuscript.EmbargoDate = model.EmbargoLiftDate.Format("2006-01-02")
	}
	for _, issn := range model.ISSNs {
		doc.Journal.ISSNs = append(doc.Journal.ISSNs, bulkISSN{
			Type:  strings.ToLower(issn.PubType),
			Value: issn.Value,
		})
	}
	if model.Volume != "" || model.Issue != "" {
		doc.Citation = &bulkCitation{Volume: model.Volume, Issue: model.Issue}
	}
	for _, p := range model.Persons {
		doc.Contacts.Persons = append(doc.Contacts.Persons, bulkPerson{
			FirstName:  p.FirstName,
			MiddleName: p.MiddleName,
			LastName:   p.LastName,
			Email:      p.Email,
			PersonType: string(p.Role),
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<!DOCTYPE nihms-submit SYSTEM \"bulksubmission.dtd\">\n")
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to render bulk_meta.xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// streamCustodial writes every custodial file, in model order, under its
// remediated entry name (optionally below a directory prefix). Each source
// is opened, read once, and closed before the next entry begins.
func streamCustodial(ctx context.Context, aw archiveWriter, opener Opener, files []builder.ModelFile, names []string, prefix string) error {
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		src, err := opener.Open(ctx, f.URI)
		if err != nil {
			return &AssemblyError{Op: "open " + f.Name, Cause: err}
		}
		_, werr := aw.WriteStream(ctx, prefix+names[i], src)
		cerr := src.Close()
		if werr != nil {
			return werr
		}
		if cerr != nil {
			return &AssemblyError{Op: "close " + f.Name, Cause: cerr}
		}
	}
	return nil
}
