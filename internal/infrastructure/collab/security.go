package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/errs"
)

// HTTPSecurityClient fetches chain/security snapshots from the external
// security-check service. The gate status is passed through opaquely; an
// unknown value is surfaced as an invariant violation, not repaired.
type HTTPSecurityClient struct {
	guardedClient
}

// NewHTTPSecurityClient creates a guarded security snapshot client.
func NewHTTPSecurityClient(config ClientConfig) *HTTPSecurityClient {
	return &HTTPSecurityClient{guardedClient: newGuardedClient(config)}
}

// Snapshot fetches the security view of one asset.
func (c *HTTPSecurityClient) Snapshot(ctx context.Context, chain, assetID string) (*domain.SecuritySnapshot, error) {
	var snap domain.SecuritySnapshot
	path := fmt.Sprintf("/v1/security/%s/%s", chain, assetID)
	if err := c.getJSON(ctx, path, &snap); err != nil {
		return nil, err
	}
	if !snap.GateStatus.Valid() {
		return nil, errs.Invariant("gate_status", fmt.Sprintf("security service returned unknown gate status %q", snap.GateStatus))
	}
	return &snap, nil
}

// HTTPMentionSource fetches the channel fan-out observed for an asset from
// the broadcast-listener service.
type HTTPMentionSource struct {
	guardedClient
}

// NewHTTPMentionSource creates a guarded mention feed client.
func NewHTTPMentionSource(config ClientConfig) *HTTPMentionSource {
	return &HTTPMentionSource{guardedClient: newGuardedClient(config)}
}

// Mentions returns the mention fan-out for the asset inside the window.
func (c *HTTPMentionSource) Mentions(ctx context.Context, assetID string, window time.Duration) ([]domain.Mention, error) {
	var payload struct {
		Mentions []domain.Mention `json:"mentions"`
	}
	path := fmt.Sprintf("/v1/mentions/%s?window_minutes=%d", assetID, int(window.Minutes()))
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Mentions, nil
}
