package cache

import (
	"fmt"
	"strings"
)

// Key identifies a cached response for one epoch of an endpoint.
type Key struct {
	// Endpoint is the API path without the epoch (e.g. "/eth/v1/validator/duties/proposer")
	Endpoint string

	// Epoch is the requested epoch
	Epoch uint64
}

// String generates a deterministic cache key string.
//
// Example:
//
//	duties:eth/v1/validator/duties/proposer:356160
func (k Key) String() string {
	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint == "" {
		return fmt.Sprintf("duties:%d", k.Epoch)
	}
	return fmt.Sprintf("duties:%s:%d", endpoint, k.Epoch)
}
