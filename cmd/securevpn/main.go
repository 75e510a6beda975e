// Command securevpn is the client and relay directory service for
// SecureVPN sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"securevpn/internal/config"
	"securevpn/internal/logger"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:    "securevpn",
		Usage:   "SecureVPN client and relay directory service",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config",
				EnvVars: []string{"SECUREVPN_CONFIG"},
				Value:   "securevpn.yaml",
			},
			&cli.StringFlag{
				Name:    "service-url",
				Aliases: []string{"u"},
				Usage:   "directory service url (overrides client.service_url)",
			},
		},
		Commands: []*cli.Command{
			relayCommand(),
			serversCommand(),
			connectCommand(),
			runCommand(),
			statsCommand(),
			whoamiCommand(),
		},
	}
}

// loadConfig loads the config named by --config, applies --service-url and
// initialises logging.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if u := c.String("service-url"); u != "" {
		cfg.Client.ServiceURL = u
	}
	logger.Init(cfg.Logging)
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
