package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/cellx"
	"pkt.systems/cellx/httpapi"
	"pkt.systems/cellx/internal/appconfig"
	"pkt.systems/cellx/internal/cellgrpc"
	"pkt.systems/cellx/internal/suggest"
	"pkt.systems/cellx/sshserver"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var noHTTP, noSSH, noGRPC bool
	var disableHistory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cellx bridges",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableHistory {
				cfg.Logging.DisableHistory = true
			}
			var opts []cellx.ServerOption
			if !noHTTP {
				opts = append(opts, cellx.WithHTTP())
			}
			if !noSSH {
				opts = append(opts, cellx.WithSSH())
			}
			if !noGRPC {
				opts = append(opts, cellx.WithGRPC())
			}
			if len(opts) == 0 {
				return errors.New("all bridges disabled")
			}

			server, err := cellx.New(serverConfig(cfg), cellx.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "disable the HTTP/SSE bridge")
	cmd.Flags().BoolVar(&noSSH, "no-ssh", false, "disable the SSH bridge")
	cmd.Flags().BoolVar(&noGRPC, "no-grpc", false, "disable the gRPC bridge")
	cmd.Flags().BoolVar(&disableHistory, "disable-history", false, "do not record cells")
	return cmd
}

func serverConfig(cfg appconfig.Config) cellx.ServerConfig {
	return cellx.ServerConfig{
		Engine: cfg.EngineSettings(),
		Index: cellx.IndexConfig{
			Dirs:            cfg.Index.Path,
			Watch:           cfg.Index.Watch,
			RefreshInterval: cfg.Index.RefreshInterval(),
		},
		HTTP: httpapi.Config{
			Addr:     cfg.HTTP.Addr,
			BasePath: cfg.HTTP.BasePath,
			History:  cfg.HTTP.History,
		},
		SSH: sshserver.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Prompt:             cfg.SSH.Prompt,
		},
		GRPC: cellgrpc.Config{SocketPath: cfg.GRPC.SocketPath},
		History: cellx.HistoryConfig{
			DBPath:     cfg.History.DBPath,
			QueueDepth: cfg.History.QueueDepth,
			Retention:  cfg.History.Retention(),
			Disabled:   cfg.Logging.DisableHistory,
		},
		ShellHistoryPath: suggest.DefaultShellHistoryPath(),
	}
}
