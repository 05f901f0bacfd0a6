package verifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxChainDocumentBytes bounds the chain document read; real chain documents
// are a few kilobytes.
const maxChainDocumentBytes = 1 << 20

// HTTPFetcher retrieves certificate chain documents over HTTP with a bounded
// timeout. A timeout surfaces to the verifier as a fetch failure, not a fatal
// process error.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch retrieves the document at url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch certificate chain: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch certificate chain: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChainDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read certificate chain: %w", err)
	}
	return data, nil
}
