package status

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
	"github.com/oabridge/depositd/pkg/model"
)

// SwordStateScheme identifies the category carrying the deposit state in a
// SWORDv2 Atom statement.
const SwordStateScheme = "http://purl.org/net/sword/terms/state"

// SwordStatementSource names the SWORDv2 Atom statement probe source.
// Mappings may be keyed by this name instead of the scheme URI.
const SwordStatementSource = "SWORDv2DspaceStatement"

const probeTimeout = 60 * time.Second

// Result is the outcome of one probe.
type Result string

const (
	// ResultUnknown means the target reported a state with no configured
	// mapping, or no state at all. The deposit is left as is.
	ResultUnknown Result = ""
	// ResultAccepted maps to DepositAccepted.
	ResultAccepted Result = "accepted"
	// ResultRejected maps to DepositRejected.
	ResultRejected Result = "rejected"
	// ResultInProgress means the target is still working; probe again later.
	ResultInProgress Result = "in-progress"
)

// DepositStatus converts the probe result to a deposit status transition.
// The second return is false when no transition applies.
func (r Result) DepositStatus() (model.DepositStatus, bool) {
	switch r {
	case ResultAccepted:
		return model.DepositAccepted, true
	case ResultRejected:
		return model.DepositRejected, true
	}
	return "", false
}

// Mapping is one repository's status mapping: outer key is the probe source
// name or the state scheme reported by the target, inner keys are state
// terms with "*" as the fallback.
type Mapping map[string]map[string]string

// Resolve maps a reported state to a Result. Term tables are looked up by
// the probe source name first, then by the scheme URI. Exact term matches
// are case-insensitive and win over the wildcard; mapped values are
// normalized to lower case.
func (m Mapping) Resolve(source, scheme, term string) Result {
	terms, ok := m[source]
	if !ok {
		terms, ok = m[scheme]
	}
	if !ok {
		return ResultUnknown
	}
	for k, v := range terms {
		if k != "*" && strings.EqualFold(k, term) {
			return toResult(v)
		}
	}
	// A full-URI term also matches on its last path segment, since some
	// targets report terms as URIs while mappings use bare names.
	if tail := lastSegment(term); tail != term {
		for k, v := range terms {
			if k != "*" && strings.EqualFold(k, tail) {
				return toResult(v)
			}
		}
	}
	if v, ok := terms["*"]; ok {
		return toResult(v)
	}
	return ResultUnknown
}

func toResult(v string) Result {
	return Result(strings.ToLower(v))
}

func lastSegment(s string) string {
	if i := strings.LastIndexAny(s, "/#"); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}

// Resolver probes deposit status references.
type Resolver struct {
	client *http.Client
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the default probe client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) { r.client = client }
}

// NewResolver creates a Resolver. Redirects are never followed implicitly;
// the probe controls the single permitted hop itself.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Probe fetches the statement at statusRef and maps the reported state
// through mapping. followRedirect enables the single-redirect probe: a HEAD
// request first, and one Location hop when the target answers 300-307
// (excluding 304 and 306). ResultUnknown with a nil error means the target
// answered but no mapping applied.
func (r *Resolver) Probe(ctx context.Context, statusRef string, mapping Mapping, followRedirect bool) (Result, error) {
	url := statusRef
	if followRedirect {
		redirected, err := r.headRedirect(ctx, url)
		if err != nil {
			metrics.StatusProbesTotal.WithLabelValues("error").Inc()
			return ResultUnknown, err
		}
		if redirected != "" {
			url = redirected
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ResultUnknown, fmt.Errorf("failed to build status probe: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		metrics.StatusProbesTotal.WithLabelValues("error").Inc()
		return ResultUnknown, fmt.Errorf("status probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.StatusProbesTotal.WithLabelValues("error").Inc()
		return ResultUnknown, fmt.Errorf("status probe of %s returned %d", url, resp.StatusCode)
	}

	var stmt atomStatement
	if err := xml.NewDecoder(resp.Body).Decode(&stmt); err != nil {
		metrics.StatusProbesTotal.WithLabelValues("error").Inc()
		return ResultUnknown, fmt.Errorf("malformed statement at %s: %w", url, err)
	}

	scheme, term, ok := stmt.state()
	if !ok {
		log.WithComponent("status").Debug().Str("url", url).Msg("statement carries no state category")
		metrics.StatusProbesTotal.WithLabelValues("unknown").Inc()
		return ResultUnknown, nil
	}

	result := mapping.Resolve(SwordStatementSource, scheme, term)
	if result == ResultUnknown {
		log.WithComponent("status").Debug().
			Str("url", url).
			Str("term", term).
			Msg("no status mapping for reported state")
		metrics.StatusProbesTotal.WithLabelValues("unknown").Inc()
		return ResultUnknown, nil
	}
	metrics.StatusProbesTotal.WithLabelValues(string(result)).Inc()
	return result, nil
}

// headRedirect performs the HEAD probe and returns the redirect target, or
// "" when the reference answers directly. Redirect statuses are 300-307
// excluding 304 (not modified) and 306 (unused).
func (r *Resolver) headRedirect(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build redirect probe: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("redirect probe failed: %w", err)
	}
	resp.Body.Close()

	if !isRedirect(resp.StatusCode) {
		return "", nil
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("redirect from %s carries no location", url)
	}
	return loc, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusNotModified, http.StatusUseProxy:
		return false
	}
	return code >= 300 && code <= 307
}

// Atom statement, the subset needed for state extraction. The state
// category may sit on the feed or on an entry; the feed-level category
// wins.

type atomStatement struct {
	XMLName    xml.Name       `xml:"feed"`
	Categories []atomCategory `xml:"category"`
	Entries    []atomEntry    `xml:"entry"`
}

type atomEntry struct {
	Categories []atomCategory `xml:"category"`
}

type atomCategory struct {
	Scheme string `xml:"scheme,attr"`
	Term   string `xml:"term,attr"`
}

func (s *atomStatement) state() (scheme, term string, ok bool) {
	for _, c := range s.Categories {
		if c.Scheme == SwordStateScheme && c.Term != "" {
			return c.Scheme, c.Term, true
		}
	}
	for _, e := range s.Entries {
		for _, c := range e.Categories {
			if c.Scheme == SwordStateScheme && c.Term != "" {
				return c.Scheme, c.Term, true
			}
		}
	}
	return "", "", false
}
