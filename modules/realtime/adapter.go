package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// StatsPort exposes store statistics to other modules.
type StatsPort interface {
	Stats(ctx context.Context) (*StatsResponse, error)
}

// StatsAdapter implements StatsPort using the service container.
type StatsAdapter struct {
	container mono.ServiceContainer
}

// NewStatsAdapter creates a new StatsAdapter.
func NewStatsAdapter(container mono.ServiceContainer) StatsPort {
	if container == nil {
		panic("realtime: ServiceContainer is nil")
	}
	return &StatsAdapter{container: container}
}

// Stats calls the store-stats service.
func (a *StatsAdapter) Stats(ctx context.Context) (*StatsResponse, error) {
	req := struct{}{}
	var resp StatsResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceStats,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get store stats: %w", err)
	}
	return &resp, nil
}
