package sotclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oabridge/depositd/pkg/model"
)

// Client is the HTTP/JSON implementation of Store.
//
// Reads capture the ETag response header on the resource; updates send it
// back as If-Match so the repository can reject lost updates with 412.
type Client struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBasicAuth sets credentials applied to every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// New creates a Client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source repository url %q: %w", baseURL, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) resolve(parts ...string) string {
	ref := &url.URL{Path: strings.Join(parts, "/")}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) do(ctx context.Context, method, target string, ifMatch string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return c.http.Do(req)
}

// get fetches target and decodes the body into out, returning the ETag.
func (c *Client) get(ctx context.Context, target string, out any) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, target, "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return "", unexpectedStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", target, err)
	}
	return resp.Header.Get("ETag"), nil
}

// put writes body to target under If-Match and decodes the committed state
// into out, returning the new ETag.
func (c *Client) put(ctx context.Context, target, ifMatch string, body, out any) (string, error) {
	resp, err := c.do(ctx, http.MethodPut, target, ifMatch, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	case http.StatusPreconditionFailed, http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return "", ErrConflict
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		return "", unexpectedStatus(resp)
	}
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", target, err)
		}
	}
	return resp.Header.Get("ETag"), nil
}

// post creates a resource under target and decodes the stored state.
func (c *Client) post(ctx context.Context, target string, body, out any) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, target, "", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", target, err)
		}
	}
	return resp.Header.Get("ETag"), nil
}

// list fetches a collection endpoint and decodes it into out.
func (c *Client) list(ctx context.Context, target string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, target, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, resp.Request.URL, strings.TrimSpace(string(body)))
}

func (c *Client) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var s model.Submission
	etag, err := c.get(ctx, c.resolve("submissions", id), &s)
	if err != nil {
		return nil, err
	}
	s.ETag = etag
	return &s, nil
}

func (c *Client) UpdateSubmission(ctx context.Context, s *model.Submission) (*model.Submission, error) {
	committed := *s
	etag, err := c.put(ctx, c.resolve("submissions", s.ID), s.ETag, s, &committed)
	if err != nil {
		return nil, err
	}
	committed.ETag = etag
	return &committed, nil
}

func (c *Client) GetDeposit(ctx context.Context, id string) (*model.Deposit, error) {
	var d model.Deposit
	etag, err := c.get(ctx, c.resolve("deposits", id), &d)
	if err != nil {
		return nil, err
	}
	d.ETag = etag
	return &d, nil
}

func (c *Client) CreateDeposit(ctx context.Context, d *model.Deposit) (*model.Deposit, error) {
	stored := *d
	etag, err := c.post(ctx, c.resolve("deposits"), d, &stored)
	if err != nil {
		return nil, err
	}
	stored.ETag = etag
	return &stored, nil
}

func (c *Client) UpdateDeposit(ctx context.Context, d *model.Deposit) (*model.Deposit, error) {
	committed := *d
	etag, err := c.put(ctx, c.resolve("deposits", d.ID), d.ETag, d, &committed)
	if err != nil {
		return nil, err
	}
	committed.ETag = etag
	return &committed, nil
}

func (c *Client) ListDepositsBySubmission(ctx context.Context, submissionID string) ([]*model.Deposit, error) {
	target := c.resolve("deposits") + "?submission=" + url.QueryEscape(submissionID)
	var out []*model.Deposit
	if err := c.list(ctx, target, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListDepositsByStatus(ctx context.Context, status model.DepositStatus) ([]*model.Deposit, error) {
	target := c.resolve("deposits") + "?status=" + url.QueryEscape(string(status))
	var out []*model.Deposit
	if err := c.list(ctx, target, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRepositoryCopy(ctx context.Context, id string) (*model.RepositoryCopy, error) {
	var rc model.RepositoryCopy
	etag, err := c.get(ctx, c.resolve("repositoryCopies", id), &rc)
	if err != nil {
		return nil, err
	}
	rc.ETag = etag
	return &rc, nil
}

func (c *Client) CreateRepositoryCopy(ctx context.Context, rc *model.RepositoryCopy) (*model.RepositoryCopy, error) {
	stored := *rc
	etag, err := c.post(ctx, c.resolve("repositoryCopies"), rc, &stored)
	if err != nil {
		return nil, err
	}
	stored.ETag = etag
	return &stored, nil
}

func (c *Client) UpdateRepositoryCopy(ctx context.Context, rc *model.RepositoryCopy) (*model.RepositoryCopy, error) {
	committed := *rc
	etag, err := c.put(ctx, c.resolve("repositoryCopies", rc.ID), rc.ETag, rc, &committed)
	if err != nil {
		return nil, err
	}
	committed.ETag = etag
	return &committed, nil
}

func (c *Client) GetRepository(ctx context.Context, id string) (*model.Repository, error) {
	var r model.Repository
	etag, err := c.get(ctx, c.resolve("repositories", id), &r)
	if err != nil {
		return nil, err
	}
	r.ETag = etag
	return &r, nil
}

func (c *Client) GetFile(ctx context.Context, id string) (*model.File, error) {
	var f model.File
	etag, err := c.get(ctx, c.resolve("files", id), &f)
	if err != nil {
		return nil, err
	}
	f.ETag = etag
	return &f, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	etag, err := c.get(ctx, c.resolve("users", id), &u)
	if err != nil {
		return nil, err
	}
	u.ETag = etag
	return &u, nil
}

func (c *Client) GetGrant(ctx context.Context, id string) (*model.Grant, error) {
	var g model.Grant
	etag, err := c.get(ctx, c.resolve("grants", id), &g)
	if err != nil {
		return nil, err
	}
	g.ETag = etag
	return &g, nil
}

func (c *Client) GetPublication(ctx context.Context, id string) (*model.Publication, error) {
	var p model.Publication
	etag, err := c.get(ctx, c.resolve("publications", id), &p)
	if err != nil {
		return nil, err
	}
	p.ETag = etag
	return &p, nil
}

func (c *Client) GetJournal(ctx context.Context, id string) (*model.Journal, error) {
	var j model.Journal
	etag, err := c.get(ctx, c.resolve("journals", id), &j)
	if err != nil {
		return nil, err
	}
	j.ETag = etag
	return &j, nil
}

func (c *Client) GetPublisher(ctx context.Context, id string) (*model.Publisher, error) {
	var p model.Publisher
	etag, err := c.get(ctx, c.resolve("publishers", id), &p)
	if err != nil {
		return nil, err
	}
	p.ETag = etag
	return &p, nil
}
