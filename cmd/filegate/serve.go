package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"filegate/gateway/internal/gateway"
	"filegate/gateway/internal/httpapi"
	"filegate/gateway/internal/rpc"
)

var (
	serveHTTP  string
	serveStdio bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gateway over HTTP or stdio JSON-RPC",
	Long: `Serve the gateway.

With --stdio, newline-delimited JSON-RPC 2.0 is read from stdin and written
to stdout; agent progress arrives as AgentChunk, AgentStatus and
AgentFileWritten notifications. Otherwise an HTTP server listens on --http
(default from settings).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveStdio && cmd.Flags().Changed("http") {
			return errors.New("--http and --stdio are mutually exclusive")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if serveStdio {
			return serveRPC(ctx, current)
		}
		addr := current.cfg.HTTP.Addr
		if cmd.Flags().Changed("http") {
			addr = serveHTTP
		}
		srv := httpapi.New(current.gw, httpapi.Options{
			AllowedOrigins: current.cfg.HTTP.AllowedOrigins,
			Logger:         current.logger,
		})
		return srv.ListenAndServe(ctx, addr)
	},
}

func serveRPC(ctx context.Context, a *app) error {
	server := rpc.NewServer(gateway.APIVersion, os.Stdin, os.Stdout, a.logger)
	a.gw.SetNotifier(server.Notify)
	handlers := make(map[string]rpc.Handler)
	for method, handler := range a.gw.Handlers() {
		handlers[method] = rpc.Handler(handler)
	}
	server.RegisterAll(handlers)
	a.logger.Info("rpc.serve", "methods", len(handlers))
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("rpc.server_error", "error", err.Error())
		return err
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "Listen address for the HTTP API")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve JSON-RPC over stdin/stdout")
	rootCmd.AddCommand(serveCmd)
}
