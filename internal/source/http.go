package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coreerrors "github.com/vincentbai/browsetrace-sessions/internal/errors"
	"github.com/vincentbai/browsetrace-sessions/internal/models"
)

type HTTPOptions struct {
	BaseURL string
	Pattern string
	Timeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
	Client  *http.Client
	Decoder *Decoder
}

// HTTPSource downloads shards from BaseURL + Pattern.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	pattern string
	retries int
	backoff time.Duration
	decoder *Decoder
}

// Ensure HTTPSource implements Source
var _ Source = (*HTTPSource)(nil)

func NewHTTPSource(opts HTTPOptions) (*HTTPSource, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Backoff == 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Retries < 0 {
		return nil, coreerrors.Wrap(fmt.Errorf("retries must not be negative, got %d", opts.Retries),
			coreerrors.CategoryInvalidInput, "source_retries_invalid", "", false)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	decoder := opts.Decoder
	if decoder == nil {
		var err error
		if decoder, err = NewDecoder(); err != nil {
			return nil, err
		}
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	return &HTTPSource{
		client:  client,
		baseURL: opts.BaseURL,
		pattern: opts.Pattern,
		retries: opts.Retries,
		backoff: opts.Backoff,
		decoder: decoder,
	}, nil
}

// URL returns the address of shard.
func (s *HTTPSource) URL(shard int) string {
	return s.baseURL + ShardName(s.pattern, shard)
}

func (s *HTTPSource) Fetch(ctx context.Context, shard int) (*models.Batch, error) {
	url := s.URL(shard)

	var body []byte
	var err error
	for attempt := 0; ; attempt++ {
		body, err = s.get(ctx, url)
		if err == nil || !coreerrors.RetryableOf(err) || attempt >= s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, canceled(ctx, url)
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("shard %d: %w", shard, err)
	}

	events, issues, err := s.decoder.DecodePayload(body)
	if err != nil {
		return nil, fmt.Errorf("shard %d (%s): %w", shard, url, err)
	}
	return &models.Batch{
		Shard:    shard,
		Location: url,
		Events:   events,
		Invalid:  issues,
		Bytes:    int64(len(body)),
	}, nil
}

func (s *HTTPSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("failed to create request: %w", err),
			coreerrors.CategoryInvalidInput, "shard_url_invalid", "check the base URL and shard pattern", false)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceled(ctx, url)
		}
		return nil, coreerrors.Wrap(fmt.Errorf("GET %s: %w", url, err),
			coreerrors.CategoryDataFetch, "shard_get_failed", "check network access to the shard host", true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		code := "shard_http_status"
		if resp.StatusCode == http.StatusNotFound {
			code = "shard_not_found"
		}
		return nil, coreerrors.Wrap(fmt.Errorf("GET %s: unexpected status %s", url, resp.Status),
			coreerrors.CategoryDataFetch, code, "", retryable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceled(ctx, url)
		}
		return nil, coreerrors.Wrap(fmt.Errorf("read %s: %w", url, err),
			coreerrors.CategoryDataFetch, "shard_read_failed", "", true)
	}
	return body, nil
}

func canceled(ctx context.Context, url string) error {
	code := "shard_fetch_canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		code = "shard_fetch_timeout"
	}
	return coreerrors.Wrap(fmt.Errorf("GET %s: %w", url, ctx.Err()),
		coreerrors.CategoryDataFetch, code, "", false)
}
