package transport

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/packager"
)

const (
	swordStatementRel = "http://purl.org/net/sword/terms/statement"
	swordTimeout      = 120 * time.Second
)

// SwordTransport opens SWORDv2 sessions. Opening a session fetches and
// parses the target's service document; the deposit itself is a single
// binary POST against the selected collection.
type SwordTransport struct {
	client *http.Client
}

// NewSwordTransport creates the transport with a default HTTP client.
func NewSwordTransport() *SwordTransport {
	return &SwordTransport{client: &http.Client{Timeout: swordTimeout}}
}

// NewSwordTransportWithClient creates the transport over a caller-supplied
// client, used by tests.
func NewSwordTransportWithClient(client *http.Client) *SwordTransport {
	return &SwordTransport{client: client}
}

func (t *SwordTransport) Open(ctx context.Context, hints Hints) (Session, error) {
	sh := hints.Sword
	if sh == nil {
		return nil, fmt.Errorf("sword transport opened without sword hints")
	}
	if sh.ServiceDocURL == "" {
		return nil, fmt.Errorf("sword transport requires a service document url")
	}

	doc, err := t.fetchServiceDoc(ctx, sh.ServiceDocURL, hints)
	if err != nil {
		return nil, err
	}

	return &swordSession{
		client:      t.client,
		hints:       hints,
		collections: doc.collectionURLs(),
	}, nil
}

func (t *SwordTransport) fetchServiceDoc(ctx context.Context, url string, hints Hints) (*serviceDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build service document request: %w", err)
	}
	applyAuth(req, hints)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "fetch service document", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{
			Status: resp.StatusCode,
			URL:    url,
			Cause:  fmt.Errorf("unexpected status for service document"),
		}
	}

	var doc serviceDoc
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &ServerError{Status: resp.StatusCode, URL: url, Cause: fmt.Errorf("malformed service document: %w", err)}
	}
	return &doc, nil
}

func applyAuth(req *http.Request, hints Hints) {
	if hints.AuthMode == AuthUserPass {
		req.SetBasicAuth(hints.Username, hints.Password)
	}
	if hints.Sword != nil && hints.Sword.OnBehalfOf != "" {
		req.Header.Set("On-Behalf-Of", hints.Sword.OnBehalfOf)
	}
}

type swordSession struct {
	client      *http.Client
	hints       Hints
	collections map[string]bool
	tainted     bool
}

func (s *swordSession) Send(ctx context.Context, pkg *packager.PackageStream) (*Receipt, error) {
	if s.tainted {
		return nil, ErrSessionTainted
	}

	meta := pkg.Metadata()
	collection, err := s.selectCollection(meta.SubmissionMeta)
	if err != nil {
		return nil, err
	}

	body, err := pkg.Open(ctx)
	if err != nil {
		return nil, &NetworkError{Op: "open package stream", Cause: err}
	}

	// SWORDv2 wants Content-Length and Content-MD5 ahead of the body, but
	// the package only materializes as it streams. Spool it to disk first.
	spool, size, digest, err := spoolPackage(body)
	body.Close()
	if err != nil {
		return nil, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, collection, spool)
	if err != nil {
		return nil, fmt.Errorf("failed to build deposit request: %w", err)
	}
	applyAuth(req, s.hints)
	req.Header.Set("Content-Type", meta.Mime)
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", meta.Name))
	req.Header.Set("Packaging", meta.Spec)
	req.Header.Set("In-Progress", "false")
	req.Header.Set("Content-MD5", digest)
	req.ContentLength = size

	resp, err := s.client.Do(req)
	if err != nil {
		s.tainted = true
		return nil, &NetworkError{Op: "deposit to " + collection, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return parseReceipt(resp.Body, resp.Header.Get("Location"))
	case resp.StatusCode >= 500:
		s.tainted = true
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, &ServerError{
			Status: resp.StatusCode,
			URL:    collection,
			Cause:  fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		}
	default:
		s.tainted = true
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &RejectedError{
			Status: resp.StatusCode,
			URL:    collection,
			Body:   errorBody(raw),
		}
	}
}

// selectCollection picks the deposit collection: the first configured hint
// whose tag matches any of the submission's collection tags wins, otherwise
// the default collection. The chosen URL must be advertised by the service
// document.
func (s *swordSession) selectCollection(submissionMeta string) (string, error) {
	sh := s.hints.Sword
	url := sh.DefaultCollectionURL

	tags := collectionTags(submissionMeta)
	if len(tags) > 0 {
	hints:
		for _, hint := range sh.CollectionHints {
			for _, tag := range tags {
				if strings.EqualFold(hint.Tag, tag) {
					url = hint.URL
					break hints
				}
			}
		}
	}

	if url == "" {
		return "", fmt.Errorf("no deposit collection configured")
	}
	if !s.collections[url] {
		return "", &InvalidCollectionURLError{URL: url}
	}
	return url, nil
}

// collectionTags pulls hints.collection-tags out of the opaque submission
// metadata blob. A missing or malformed blob yields no tags.
func collectionTags(blob string) []string {
	if blob == "" {
		return nil
	}
	var meta struct {
		Hints struct {
			CollectionTags []string `json:"collection-tags"`
		} `json:"hints"`
	}
	if err := json.Unmarshal([]byte(blob), &meta); err != nil {
		log.WithComponent("sword-transport").Debug().Err(err).Msg("submission metadata blob is not JSON, ignoring collection hints")
		return nil
	}
	return meta.Hints.CollectionTags
}

// spoolPackage drains the package stream to a temporary file and computes
// its MD5 along the way. Assembly errors surface with their original type so
// they classify correctly; the session stays usable since nothing reached
// the wire.
func spoolPackage(body io.Reader) (*os.File, int64, string, error) {
	spool, err := os.CreateTemp("", "sword-deposit-*")
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create deposit spool: %w", err)
	}
	discard := func() {
		spool.Close()
		os.Remove(spool.Name())
	}

	sum := md5.New()
	size, err := io.Copy(io.MultiWriter(spool, sum), body)
	if err != nil {
		discard()
		return nil, 0, "", err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, 0, "", fmt.Errorf("failed to rewind deposit spool: %w", err)
	}
	return spool, size, hex.EncodeToString(sum.Sum(nil)), nil
}

func (s *swordSession) Close() error { return nil }

// Atom service document, the subset needed for collection validation.

type serviceDoc struct {
	XMLName    xml.Name        `xml:"service"`
	Workspaces []atomWorkspace `xml:"workspace"`
}

type atomWorkspace struct {
	Title       string           `xml:"title"`
	Collections []atomCollection `xml:"collection"`
}

type atomCollection struct {
	Href string `xml:"href,attr"`
}

func (d *serviceDoc) collectionURLs() map[string]bool {
	urls := make(map[string]bool)
	for _, ws := range d.Workspaces {
		for _, c := range ws.Collections {
			if c.Href != "" {
				urls[c.Href] = true
			}
		}
	}
	return urls
}

// Atom deposit receipt, the subset needed for status tracking.

type depositReceipt struct {
	XMLName xml.Name   `xml:"entry"`
	Links   []atomLink `xml:"link"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

func parseReceipt(r io.Reader, location string) (*Receipt, error) {
	var entry depositReceipt
	if err := xml.NewDecoder(r).Decode(&entry); err != nil {
		return nil, &ServerError{Status: http.StatusOK, Cause: fmt.Errorf("malformed deposit receipt: %w", err)}
	}

	receipt := &Receipt{Location: location}
	for _, link := range entry.Links {
		switch link.Rel {
		case swordStatementRel:
			// Prefer the Atom feed flavour of the statement when both
			// serializations are advertised.
			if receipt.StatusRef == "" || strings.Contains(link.Type, "atom+xml") {
				receipt.StatusRef = link.Href
			}
		case "edit":
			if receipt.Location == "" {
				receipt.Location = link.Href
			}
		}
	}
	return receipt, nil
}

// sword:error document shape.

type swordError struct {
	XMLName            xml.Name `xml:"error"`
	Title              string   `xml:"title"`
	Summary            string   `xml:"summary"`
	Treatment          string   `xml:"treatment"`
	VerboseDescription string   `xml:"verboseDescription"`
}

// errorBody renders a rejection body for storage on the deposit. A parsable
// sword:error document is summarized; anything else passes through verbatim.
func errorBody(raw []byte) string {
	var se swordError
	if err := xml.Unmarshal(raw, &se); err == nil {
		parts := make([]string, 0, 3)
		for _, p := range []string{se.Title, se.Summary, se.VerboseDescription} {
			if strings.TrimSpace(p) != "" {
				parts = append(parts, strings.TrimSpace(p))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ": ")
		}
	}
	return strings.TrimSpace(string(raw))
}
