package maintenance

import (
	"context"
	"log/slog"
	"time"

	"omni-agent/internal/infra/config"
)

// Task names.
const (
	TaskMCPRefresh   = "mcp_refresh"
	TaskImageCleanup = "image_cleanup"
)

// MCPRefresher is the MCP service surface the refresh job needs.
type MCPRefresher interface {
	Initialized() bool
	Initialize(ctx context.Context) error
}

// ImageCleaner deletes generated images older than maxAge.
type ImageCleaner interface {
	Cleanup(maxAge time.Duration) (int, error)
}

// MCPRefreshTask reconnects the MCP servers when the service is not
// initialized, which covers servers that were down at startup.
func MCPRefreshTask(spec string, mcp MCPRefresher, logger *slog.Logger) Task {
	return Task{
		Name:     TaskMCPRefresh,
		Schedule: spec,
		Run: func(ctx context.Context) error {
			if mcp.Initialized() {
				return nil
			}
			if err := mcp.Initialize(ctx); err != nil {
				return err
			}
			logger.Info("mcp service initialized by refresh job")
			return nil
		},
	}
}

// ImageCleanupTask removes generated images past their retention.
func ImageCleanupTask(spec string, retention time.Duration, images ImageCleaner, logger *slog.Logger) Task {
	return Task{
		Name:     TaskImageCleanup,
		Schedule: spec,
		Run: func(context.Context) error {
			if retention <= 0 {
				return nil
			}
			removed, err := images.Cleanup(retention)
			if removed > 0 {
				logger.Info("generated images removed", "count", removed, "retention", retention)
			}
			return err
		},
	}
}

// Setup registers the configured jobs. Nil collaborators skip their job.
func Setup(s *Scheduler, cfg config.Config, mcp MCPRefresher, images ImageCleaner, logger *slog.Logger) error {
	if mcp != nil {
		if err := s.Add(MCPRefreshTask(cfg.Maintenance.MCPRefresh, mcp, logger)); err != nil {
			return err
		}
	}
	if images != nil {
		if err := s.Add(ImageCleanupTask(cfg.Maintenance.ImageCleanup, cfg.Image.Retention, images, logger)); err != nil {
			return err
		}
	}
	return nil
}
