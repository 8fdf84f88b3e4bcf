package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/storage"
)

// Broadcaster is the NOTIFY surface of the storage layer.
type Broadcaster interface {
	Notify(ctx context.Context, channel, payload string) error
}

// BroadcastNotifier logs route completion and publishes a best-effort
// pg_notify broadcast on the routes channel so external listeners can react
// without polling.
type BroadcastNotifier struct {
	DB     Broadcaster
	Logger *slog.Logger
}

// OnRouteCompleted implements CompletionNotifier.
func (n *BroadcastNotifier) OnRouteCompleted(ctx context.Context, route model.Route) error {
	n.Logger.Info("viralization route completed",
		"route_id", route.ID,
		"session_id", route.SessionID,
		"route_type", route.RouteType,
		"stages", len(route.Stages))

	if n.DB == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"route_id":   route.ID,
		"session_id": route.SessionID,
		"status":     route.Status,
	})
	if err != nil {
		return fmt.Errorf("engine: marshal completion payload: %w", err)
	}
	return n.DB.Notify(ctx, storage.ChannelRoutes, string(payload))
}
