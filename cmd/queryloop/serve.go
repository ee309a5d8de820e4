package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/dps_queryloop/src/host"
	"github.com/danmuck/dps_queryloop/src/transport"
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	configPath    string
	listen        string
	storageDir    string
	statsInterval time.Duration
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a host with the query loop contract over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadHostConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddress = opts.listen
			}
			if cmd.Flags().Changed("storage") {
				cfg.StorageDir = opts.storageDir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.statsInterval)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "host config TOML file")
	cmd.Flags().StringVar(&opts.listen, "listen", host.DefaultListenAddress, "address to accept queries on")
	cmd.Flags().StringVar(&opts.storageDir, "storage", "", "directory for contract metadata")
	cmd.Flags().DurationVar(&opts.statsInterval, "stats-interval", 30*time.Second, "how often to log query stats, 0 disables")
	return cmd
}

// serve runs until ctx is done.
func serve(ctx context.Context, cfg host.Config, statsInterval time.Duration) error {
	h, addr, err := setupHost(ctx, cfg)
	if err != nil {
		return err
	}
	logs.Infof("query loop contract at %s", addr)

	exit := make(chan any)
	handler := transport.NewTCPHandler(cfg.ListenAddress, h, exit)
	if err := handler.ListenAndAccept(); err != nil {
		return err
	}
	logs.Infof("serving smart queries on %s", handler.Addr())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		logs.Infof("shutting down")
		close(exit)
		return handler.Close()
	})

	if statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					stats := h.Stats()
					logs.Infof("stats: resolved=%d rejected=%d deepest=%d", stats.Resolved, stats.Rejected, stats.MaxStackSeen)
				}
			}
		})
	}

	return g.Wait()
}
