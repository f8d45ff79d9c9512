package collector

import (
	"fmt"

	"github.com/qepting91/skeet-sweeper/internal/domain"
)

// NewRemote selects the correct implementation based on the collector mode
func NewRemote(mode, host, userAgent string) (domain.Remote, error) {
	switch mode {
	case "", "api":
		return NewBskyClient(host, userAgent), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown COLLECTOR_MODE: %s (use 'api' or 'mock')", mode)
	}
}
