package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/steady/internal/cache"
	"github.com/vietddude/steady/internal/control"
	"github.com/vietddude/steady/internal/core/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the persisted query cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry in the configured namespace",
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(ctx context.Context, s *cache.Store) {
			fmt.Printf("Removed %d cache entries\n", s.Clear(ctx))
		})
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired, corrupt and outdated cache entries",
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(ctx context.Context, s *cache.Store) {
			fmt.Printf("Swept %d cache entries\n", s.ClearExpired(ctx))
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd, cacheSweepCmd)
	rootCmd.AddCommand(cacheCmd)
}

func withStore(fn func(ctx context.Context, s *cache.Store)) {
	cfg := loadConfig()
	if cfg.Cache.Backend == config.BackendMemory {
		slog.Error("Cache backend is memory, nothing persisted to maintain")
		os.Exit(1)
	}

	// Maintenance needs no queries or notifications
	cfg.Queries = nil
	cfg.Realtime.Backend = config.BackendNone

	ctx := context.Background()
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(ctx)
	}()

	fn(ctx, app.Store())
}
