// Package httpclient provides the HTTP client used by feed-polling
// collectors. Garden hubs and weather stations commonly live on the local
// network, so private addresses are allowed; the client still restricts
// schemes, caps redirects, and bounds every transport phase.
package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/verdant-labs/verdant/errors"
)

const maxRedirects = 5

// Client wraps http.Client with URL validation suited to feed polling.
type Client struct {
	*http.Client
}

// New creates a polling client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	c := &Client{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.Newf("stopped after %d redirects", maxRedirects)
		}
		if err := ValidateEndpoint(req.URL.String()); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	return c
}

// ValidateEndpoint checks that a configured feed endpoint is a usable
// http(s) URL. Called at collector configure time so a bad endpoint fails
// registration instead of every poll.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid endpoint URL %q", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errors.Newf("endpoint scheme %q not allowed (want http or https)", scheme)
	}
	if u.Host == "" {
		return errors.Newf("endpoint %q missing host", raw)
	}
	if u.User != nil {
		return errors.New("endpoint must not embed credentials")
	}

	return nil
}
