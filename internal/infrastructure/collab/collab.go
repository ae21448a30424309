// Package collab holds the clients for the pipeline's external
// collaborators: chain/security snapshots, mention feeds, narrative
// classification and order execution. Every remote call goes through a
// circuit breaker and a token-bucket rate limiter with a per-call timeout;
// a stalled collaborator fails fast instead of hanging the pipeline.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/errs"
)

// SecurityClient fetches the chain/security snapshot for an asset.
type SecurityClient interface {
	Snapshot(ctx context.Context, chain, assetID string) (*domain.SecuritySnapshot, error)
}

// MentionSource returns the channel fan-out for an asset inside the
// diffusion window.
type MentionSource interface {
	Mentions(ctx context.Context, assetID string, window time.Duration) ([]domain.Mention, error)
}

// NarrativeClassifier labels the narrative behind a mention set.
type NarrativeClassifier interface {
	Classify(ctx context.Context, assetID string, mentions []domain.Mention) (*domain.NarrativeResult, error)
}

// Order is a sized buy handed to the execution venue.
type Order struct {
	Chain      string  `json:"chain"`
	AssetID    string  `json:"asset_id"`
	SizeNative float64 `json:"size_native"`
}

// OrderResult reports venue acceptance. FillPrice is the realized entry
// price; exits later compute pnl against it.
type OrderResult struct {
	Success   bool    `json:"success"`
	TxRef     string  `json:"tx_ref,omitempty"`
	FillPrice float64 `json:"fill_price,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ExecutionClient places orders on the venue.
type ExecutionClient interface {
	PlaceOrder(ctx context.Context, order Order) (*OrderResult, error)
}

// ClientConfig configures one guarded HTTP collaborator.
type ClientConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	RPS         float64       `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before the breaker opens
	OpenFor     time.Duration `yaml:"open_for"`
}

// DefaultClientConfig returns conservative guard settings.
func DefaultClientConfig(name, baseURL string) ClientConfig {
	return ClientConfig{
		Name:        name,
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		RPS:         5,
		Burst:       10,
		MaxFailures: 5,
		OpenFor:     30 * time.Second,
	}
}

// guardedClient wraps http.Client with a breaker and limiter. All concrete
// collaborator clients embed it.
type guardedClient struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func newGuardedClient(config ClientConfig) guardedClient {
	return guardedClient{
		name:    config.Name,
		baseURL: config.BaseURL,
		http:    &http.Client{Timeout: config.Timeout},
		timeout: config.Timeout,
		limiter: rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    config.Name,
			Timeout: config.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
		}),
	}
}

// getJSON performs a guarded GET and decodes the response into out.
func (g *guardedClient) getJSON(ctx context.Context, path string, out interface{}) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

// postJSON performs a guarded POST with a JSON body.
func (g *guardedClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return g.do(ctx, http.MethodPost, path, body, out)
}

func (g *guardedClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return errs.Unavailable(g.name, fmt.Errorf("rate limit wait: %w", err))
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			reader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return errs.Unavailable(g.name, err)
	}
	return nil
}
