package serve

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

// Command returns the root munkeyd command: a single long-running node,
// no sub-commands, per SPEC_FULL.md §6.
func Command() *cli.Command {
	cfg := Config{
		RootDir:       "./munkey-data",
		Port:          8443,
		DiscoveryPort: 8674,
		StoreKind:     "sqlite",
	}
	return &cli.Command{
		Name:  "munkeyd",
		Usage: "Peer-to-peer encrypted password vault daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "root-dir",
				Sources:     cli.EnvVars("MUNKEYD_ROOT_DIR"),
				Destination: &cfg.RootDir,
				Value:       cfg.RootDir,
				Usage:       "Directory for persisted vaults, admin store, and TLS material",
			},
			&cli.IntFlag{
				Name:        "port",
				Sources:     cli.EnvVars("MUNKEYD_PORT"),
				Destination: &cfg.Port,
				Value:       cfg.Port,
				Usage:       "HTTPS port serving /link and /db/*",
			},
			&cli.IntFlag{
				Name:        "discovery-port",
				Sources:     cli.EnvVars("MUNKEYD_DISCOVERY_PORT"),
				Destination: &cfg.DiscoveryPort,
				Value:       cfg.DiscoveryPort,
				Usage:       "Discovery port, reported in the startup log; the mDNS record advertises --port",
			},
			&cli.StringFlag{
				Name:        "store-kind",
				Sources:     cli.EnvVars("MUNKEYD_STORE_KIND"),
				Destination: &cfg.StoreKind,
				Value:       cfg.StoreKind,
				Usage:       "Vault storage engine (sqlite|memory)",
			},
			&cli.BoolFlag{
				Name:    "in-memory",
				Sources: cli.EnvVars("MUNKEYD_IN_MEMORY"),
				Usage:   "Shorthand for --store-kind=memory, useful for tests and demos",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("in-memory") {
				cfg.StoreKind = "memory"
			}
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg Config) error {
	srv, err := StartServer(ctx, cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down...")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("shutdown error", "err", err)
		return err
	}
	log.Info("node stopped")
	return nil
}
