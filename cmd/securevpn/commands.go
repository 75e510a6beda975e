package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"securevpn/internal/agent"
	"securevpn/internal/api"
	"securevpn/internal/config"
	"securevpn/internal/logger"
	"securevpn/internal/metrics"
	"securevpn/internal/netprobe"
	"securevpn/internal/relay"
	"securevpn/internal/session"
)

func relayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Relay directory service",
		Subcommands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the server catalogue and issue sessions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "listen address (overrides relay.listen)"},
					&cli.StringFlag{Name: "data-dir", Usage: "ledger directory (overrides relay.data_dir)"},
				},
				Action: relayServe,
			},
		},
	}
}

func relayServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("listen"); v != "" {
		cfg.Relay.Listen = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.Relay.DataDir = v
	}
	if err := config.ValidateRelay(cfg); err != nil {
		return err
	}

	s, err := relay.NewServer(cfg.Relay)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c.Context)
	defer cancel()
	return s.ListenAndServe(ctx)
}

func serversCommand() *cli.Command {
	return &cli.Command{
		Name:   "servers",
		Usage:  "List the servers offered by the directory service",
		Action: listServers,
	}
}

func listServers(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := config.ValidateClient(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.Client.RequestTimeout())
	defer cancel()
	endpoints, err := api.NewClient(cfg.Client.ServiceURL, cfg.Client.RequestTimeout()).ListServers(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(c.App.Writer, renderServers(endpoints, cfg.Client.PreferredServer))
	return nil
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect to a server and show live telemetry until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "server id (default: preferred or first)"},
			&cli.DurationFlag{Name: "for", Usage: "disconnect after this long (0 = until interrupted)"},
		},
		Action: connect,
	}
}

func connect(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := config.ValidateClient(cfg); err != nil {
		return err
	}
	serverID := c.String("server")
	if serverID == "" {
		serverID = cfg.Client.PreferredServer
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	if d := c.Duration("for"); d > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, d)
		defer stop()
	}

	events := make(chan session.Event, 16)
	notifier := session.NotifierFunc(func(e session.Event) {
		select {
		case events <- e:
		default:
		}
	})
	ctrl := session.New(
		api.NewClient(cfg.Client.ServiceURL, cfg.Client.RequestTimeout()),
		notifier,
		session.WithLogger(logger.Component("session")),
		session.WithRequestTimeout(cfg.Client.RequestTimeout()),
		session.WithSampleInterval(cfg.Client.SampleInterval()),
		session.WithAutoConnect(false),
	)
	return connectAndWatch(ctx, ctrl, events, c.App.Writer, serverID, cfg.Client.SampleInterval(), 2*cfg.Client.RequestTimeout())
}

// connectAndWatch connects ctrl to serverID and prints its status every
// interval until ctx ends or the session drops. On every exit path the
// controller is shut down, so a session that opened while ctx was ending
// is still closed on the service.
func connectAndWatch(ctx context.Context, ctrl *session.Controller, events <-chan session.Event, out io.Writer, serverID string, interval, grace time.Duration) error {
	err := watchSession(ctx, ctrl, events, out, serverID, interval)

	shutdownCtx, stop := context.WithTimeout(context.Background(), grace)
	defer stop()
	if serr := ctrl.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, session.ErrClosed) && err == nil {
		err = serr
	}
	for {
		select {
		case e := <-events:
			fmt.Fprintln(out, renderEvent(e))
		default:
			return err
		}
	}
}

func watchSession(ctx context.Context, ctrl *session.Controller, events <-chan session.Event, out io.Writer, serverID string, interval time.Duration) error {
	if err := ctrl.Refresh(); err != nil {
		return err
	}
	if err := awaitEvent(ctx, events, out, session.EventDirectoryRefreshed, session.EventDirectoryUnavailable); err != nil {
		return err
	}
	if serverID != "" {
		if err := ctrl.Select(serverID); err != nil {
			return err
		}
	}
	snap, err := ctrl.Snapshot()
	if err != nil {
		return err
	}
	if !snap.HasSelection {
		return errors.New("directory returned no servers")
	}
	if err := ctrl.Connect(); err != nil {
		return err
	}
	if err := awaitEvent(ctx, events, out, session.EventConnected, session.EventConnectFailed); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			fmt.Fprintln(out, renderEvent(e))
			if e.Kind == session.EventDisconnected || e.Kind == session.EventDisconnectFailed {
				return nil
			}
		case <-ticker.C:
			snap, err := ctrl.Snapshot()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderStatus(snap))
		}
	}
}

// awaitEvent prints events until one of the wanted kinds arrives. The
// second wanted kind is treated as failure.
func awaitEvent(ctx context.Context, events <-chan session.Event, out io.Writer, ok, failed session.EventKind) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-events:
			fmt.Fprintln(out, renderEvent(e))
			switch e.Kind {
			case ok:
				return nil
			case failed:
				return e.Err
			}
		}
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the client agent (auto-connect, periodic refresh, metrics)",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			err = agent.Run(ctx, cfg, c.String("config"))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize recorded session telemetry",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "window", Value: time.Hour, Usage: "time window"},
			&cli.StringFlag{Name: "path", Usage: "telemetry CSV path override"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			path := c.String("path")
			if path == "" {
				path = cfg.Client.TelemetryPath
			}
			if path == "" {
				return errors.New("telemetry path required (client.telemetry_path or --path)")
			}

			items, err := metrics.ReadCSV(path)
			if err != nil {
				return err
			}
			summary := metrics.Summarize(items, time.Now().UTC().Add(-c.Duration("window")))
			fmt.Fprint(c.App.Writer, renderSummary(summary))
			return nil
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Discover the public address and NAT type via STUN",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: 3 * time.Second, Usage: "per-server timeout"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			res, err := netprobe.New(cfg.Client.STUNServers, c.Duration("timeout")).Probe(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(c.App.Writer, renderProbe(res))
			return nil
		},
	}
}
