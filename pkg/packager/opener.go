package packager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Opener resolves a custodial file's content locator into a byte stream.
// The locator is opaque to the rest of the engine; the opener is the only
// place that dereferences it.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// HTTPOpener fetches content locators over HTTP(S), with optional basic
// auth, and supports file:// locators for development and tests.
type HTTPOpener struct {
	Client   *http.Client
	Username string
	Password string
}

// NewHTTPOpener creates an opener with a 60 s per-request timeout.
func NewHTTPOpener(username, password string) *HTTPOpener {
	return &HTTPOpener{
		Client:   &http.Client{Timeout: 60 * time.Second},
		Username: username,
		Password: password,
	}
}

func (o *HTTPOpener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid content locator %q: %w", uri, err)
	}
	if u.Scheme == "file" || u.Scheme == "" {
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", uri, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if o.Username != "" {
		req.SetBasicAuth(o.Username, o.Password)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, uri)
	}
	return resp.Body, nil
}
