// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/control"
	"github.com/momentics/hioload-core/report"
	"github.com/momentics/hioload-core/server"
	"github.com/momentics/hioload-core/transport/tcp"
)

var (
	servePort int
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo server",
	Long:  "Start the echo server and, when enabled, the metrics endpoint. SIGHUP reloads the configuration file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Address = serveAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, control.NewConfigStore(cfg))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "TCP port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to bind (overrides config)")
}

func serve(ctx context.Context, store *control.ConfigStore) error {
	cfg := store.Snapshot()
	log := report.Component("echo")

	var metrics *control.MetricsRegistry
	if cfg.Metrics.Enabled {
		metrics = control.NewMetricsRegistry()
	}
	srv := server.New(cfg.ServerOptions(metrics)...)

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("server.connections", func() any { return srv.Connections() })
	probes.RegisterProbe("server.port", func() any { return srv.Port() })

	store.OnReload(func(_, cur *control.Config) {
		if err := applyLogger(cur); err != nil {
			report.Warn("serve", "logger not reloaded", err)
			return
		}
		report.Log("serve", "configuration reloaded")
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)

	startDone := make(chan struct{})
	g.Go(func() error {
		defer close(startDone)
		return srv.Start(echoHandler, cfg.Server.Port, cfg.Server.Address, cfg.Server.ReadTimeout)
	})

	var httpSrv *http.Server
	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/debug/state", probes.Handler())
		httpSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Metrics.Address).Msg("metrics endpoint listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-hup:
				if configFile == "" {
					continue
				}
				if err := store.Reload(configFile); err != nil {
					report.Warn("serve", "reload failed", err)
				}
			case <-gctx.Done():
				// Stop is a no-op before the listener exists
				select {
				case <-srv.Listening():
				case <-startDone:
				}
				srv.Stop()
				if httpSrv != nil {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return httpSrv.Shutdown(sctx)
				}
				return nil
			}
		}
	})

	select {
	case <-srv.Listening():
		log.Info().Int("port", srv.Port()).Msg("echo server ready")
	case <-gctx.Done():
	}
	return g.Wait()
}

// echoHandler writes back everything it reads. The user parameter is the
// idle timeout; a connection idle for that long is closed.
func echoHandler(conn *server.ConnectionParams) {
	idle, _ := conn.UserParam.(time.Duration)
	log := report.Component("echo").With().Str("conn_id", conn.ID.String()).Logger()
	buf := make([]byte, 16*1024)
	var total int
	for conn.Socket.Status() == api.StatusConnected {
		timedOut, err := conn.Socket.WaitForSocketEvent(idle)
		if err != nil {
			break
		}
		if timedOut {
			log.Debug().Dur("idle", idle).Msg("closing idle connection")
			break
		}
		n, _, err := conn.Socket.Read(buf, tcp.JustAvailable())
		if err != nil {
			break
		}
		if n == 0 {
			continue
		}
		if _, err := conn.Socket.Write(buf[:n]); err != nil {
			break
		}
		total += n
	}
	log.Debug().Int("bytes", total).Msg("connection finished")
}
