package packager

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/metrics"
)

// DSpaceAssembler produces a DSpace METS SIP: a zip archive holding
// mets.xml and a data/ directory with every custodial file. Each custodial
// entry is registered in the METS fileSec with a deterministic file id and
// an xlink:href of data/<remediated-name>.
type DSpaceAssembler struct {
	opener Opener
}

// NewDSpaceAssembler creates the assembler over the given content opener.
func NewDSpaceAssembler(opener Opener) *DSpaceAssembler {
	return &DSpaceAssembler{opener: opener}
}

func (a *DSpaceAssembler) Assemble(model *builder.DepositModel, opts Options) (*PackageStream, error) {
	if opts.Archive != ArchiveZip {
		return nil, fmt.Errorf("DSpace METS packages require a zip archive, got %q", opts.Archive)
	}

	names := remediate(model.Files, metsName)
	metsDoc, err := buildMets(model, names)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		Name:           fmt.Sprintf("dspace-mets_%s.zip", slug(model.SubmissionID)),
		Spec:           SpecDSpaceSIP,
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
		if _, err := aw.WriteBytes(metsName, metsDoc); err != nil {
			return err
		}
		if err := streamCustodial(ctx, aw, a.opener, model.Files, names, "data/"); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
		metrics.PackagesAssembledTotal.WithLabelValues(SpecDSpaceSIP).Inc()
		return nil
	})
	return stream, nil
}

// METS document shape. Namespace prefixes are written literally; the METS
// and XLink namespaces are declared on the root element.

type metsDoc struct {
	XMLName    xml.Name      `xml:"mets"`
	Xmlns      string        `xml:"xmlns,attr"`
	XmlnsXlink string        `xml:"xmlns:xlink,attr"`
	Label      string        `xml:"LABEL,attr"`
	Profile    string        `xml:"PROFILE,attr"`
	DmdSec     metsDmdSec    `xml:"dmdSec"`
	FileSec    metsFileSec   `xml:"fileSec"`
	StructMap  metsStructMap `xml:"structMap"`
}

type metsDmdSec struct {
	ID     string     `xml:"ID,attr"`
	MdWrap metsMdWrap `xml:"mdWrap"`
}

type metsMdWrap struct {
	MDType      string      `xml:"MDTYPE,attr"`
	OtherMDType string      `xml:"OTHERMDTYPE,attr,omitempty"`
	XMLData     metsXMLData `xml:"xmlData"`
}

type metsXMLData struct {
	Fields []dimField `xml:"dim:field"`
}

type dimField struct {
	XMLName   xml.Name `xml:"dim:field"`
	Element   string   `xml:"element,attr"`
	Qualifier string   `xml:"qualifier,attr,omitempty"`
	Value     string   `xml:",chardata"`
}

type metsFileSec struct {
	FileGrp metsFileGrp `xml:"fileGrp"`
}

type metsFileGrp struct {
	Use   string     `xml:"USE,attr"`
	Files []metsFile `xml:"file"`
}

type metsFile struct {
	ID       string   `xml:"ID,attr"`
	MimeType string   `xml:"MIMETYPE,attr,omitempty"`
	FLocat   metsFLoc `xml:"FLocat"`
}

type metsFLoc struct {
	LocType string `xml:"LOCTYPE,attr"`
	Href    string `xml:"xlink:href,attr"`
}

type metsStructMap struct {
	ID  string  `xml:"ID,attr"`
	Div metsDiv `xml:"div"`
}

type metsDiv struct {
	DmdID string     `xml:"DMDID,attr"`
	Fptrs []metsFptr `xml:"fptr"`
}

type metsFptr struct {
	FileID string `xml:"FILEID,attr"`
}

func buildMets(model *builder.DepositModel, names []string) ([]byte, error) {
	doc := metsDoc{
		Xmlns:      "http://www.loc.gov/METS/",
		XmlnsXlink: "http://www.w3.org/1999/xlink",
		Label:      "DSpace METS SIP",
		Profile:    "DSpace METS SIP Profile 1.0",
		DmdSec: metsDmdSec{
			ID: "dmd_1",
			MdWrap: metsMdWrap{
				MDType:      "OTHER",
				OtherMDType: "DIM",
				XMLData:     metsXMLData{Fields: dimFields(model)},
			},
		},
		FileSec: metsFileSec{
			FileGrp: metsFileGrp{Use: "CONTENT"},
		},
		StructMap: metsStructMap{
			ID:  "struct_1",
			Div: metsDiv{DmdID: "dmd_1"},
		},
	}

	for i, f := range model.Files {
		fileID := fmt.Sprintf("file_%d", i+1)
		doc.FileSec.FileGrp.Files = append(doc.FileSec.FileGrp.Files, metsFile{
			ID:       fileID,
			MimeType: f.MimeType,
			FLocat: metsFLoc{
				LocType: "URL",
				Href:    "data/" + names[i],
			},
		})
		doc.StructMap.Div.Fptrs = append(doc.StructMap.Div.Fptrs, metsFptr{FileID: fileID})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to render mets.xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func dimFields(model *builder.DepositModel) []dimField {
	var fields []dimField
	add := func(element, qualifier, value string) {
		if value != "" {
			fields = append(fields, dimField{Element: element, Qualifier: qualifier, Value: value})
		}
	}
	add("title", "", model.Title)
	add("description", "abstract", model.Abstract)
	add("identifier", "doi", model.DOI)
	add("source", "journal", model.JournalTitle)
	if !model.EmbargoLiftDate.IsZero() {
		add("date", "embargoUntil", model.EmbargoLiftDate.Format("2006-01-02"))
	}
	for _, p := range model.PersonsByRole(builder.RoleAuthor) {
		add("contributor", "author", p.Name())
	}
	return fields
}
