package collab

import (
	"context"
	"fmt"

	"github.com/pulsearb/pulsearb/internal/domain/errs"
)

// HTTPExecutionClient submits sized orders to the execution venue. The
// pipeline treats any error here as a failed order and releases the
// capital reservation; it never retries.
type HTTPExecutionClient struct {
	guardedClient
}

// NewHTTPExecutionClient creates a guarded execution client.
func NewHTTPExecutionClient(config ClientConfig) *HTTPExecutionClient {
	return &HTTPExecutionClient{guardedClient: newGuardedClient(config)}
}

// PlaceOrder submits one order. A venue-level rejection comes back as a
// result with Success=false, not an error; errors mean the venue was
// unreachable.
func (c *HTTPExecutionClient) PlaceOrder(ctx context.Context, order Order) (*OrderResult, error) {
	var result OrderResult
	if err := c.postJSON(ctx, "/v1/orders", order, &result); err != nil {
		return nil, err
	}
	if !result.Success && result.Error == "" {
		return nil, errs.Unavailable(c.name, fmt.Errorf("venue rejected order without a reason"))
	}
	return &result, nil
}
