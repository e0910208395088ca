package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	activityStreamsMediaType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	// maxBodySize caps how much of a remote response is read. Documents
	// larger than this are cut off; for POSTs the body is drained up to
	// the cap and discarded since only the status code matters.
	maxBodySize = 1 << 20
)

// Fetcher performs outbound HTTP against remote servers and classifies
// failures as temporary (retry-eligible) or permanent.
type Fetcher struct {
	UserAgent string
	Client    *http.Client
}

func NewFetcher(userAgent string) *Fetcher {
	return &Fetcher{
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Get fetches the given URI with the ActivityStreams Accept header and
// returns the response body, capped at maxBodySize.
func (f *Fetcher) Get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", activityStreamsMediaType)
	req.Header.Set("User-Agent", f.UserAgent)

	return f.do(req)
}

// Post delivers a signed payload to a remote inbox. The sign callback
// runs after the standard headers are set, so the Date and Digest it
// covers are the ones actually sent. Only the status code of the
// response is inspected.
func (f *Fetcher) Post(ctx context.Context, uri string, body []byte, sign func(*http.Request) error) error {
	req, err := http.NewRequestWithContext(ctx, "POST", uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", activityStreamsMediaType)
	req.Header.Set("Accept", activityStreamsMediaType)
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if sign != nil {
		if err := sign(req); err != nil {
			return fmt.Errorf("failed to sign request: %w", err)
		}
	}

	_, err = f.do(req)
	return err
}

func (f *Fetcher) do(req *http.Request) ([]byte, error) {
	resp, err := f.Client.Do(req)
	if err != nil {
		// A deliberately cancelled request must not be endlessly
		// retried, so cancellation classifies as permanent.
		temporary := true
		if ctxErr := req.Context().Err(); ctxErr != nil {
			temporary = false
			err = ctxErr
		}
		return nil, &TransportError{URI: req.URL.String(), Temporary: temporary, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		// Cancellation can also strike mid-body, after Client.Do has
		// already returned the headers.
		temporary := true
		if ctxErr := req.Context().Err(); ctxErr != nil {
			temporary = false
			err = ctxErr
		}
		return nil, &TransportError{URI: req.URL.String(), Temporary: temporary, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			URI:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Temporary:  retryableStatus(resp.StatusCode),
		}
	}

	return body, nil
}

// retryableStatus reports whether a status code signals overload rather
// than rejection.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
