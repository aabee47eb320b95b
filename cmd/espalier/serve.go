package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/logging"
	httpadapter "github.com/aretw0/espalier/pkg/adapters/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run API server",
	Long: `Starts the pipeline in server mode, exposing a JSON API over HTTP.
Runs are started asynchronously and observed live over SSE.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		listen, _ := cmd.Flags().GetString("listen")

		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		if listen != "" {
			cfg.HTTP.Listen = listen
		}

		logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

		rt, err := cli.BuildRuntime(cfg, logger)
		if err != nil {
			fmt.Printf("Error initializing espalier: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := rt.Close(); err != nil {
				logger.Warn("Runtime close failed", "error", err)
			}
		}()

		mopts := []httpadapter.ManagerOption{httpadapter.WithLogger(logger)}
		if rt.Locker != nil {
			mopts = append(mopts, httpadapter.WithLocker(rt.Locker))
		}
		manager := httpadapter.NewManager(rt.Engine.RunWithHooks, rt.Archive, mopts...)

		handler, err := httpadapter.NewHandler(manager,
			httpadapter.WithMetricsHandler(promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})),
		)
		if err != nil {
			fmt.Printf("Error building API handler: %v\n", err)
			os.Exit(1)
		}

		srv := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: handler,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("Starting Espalier Server on %s\n", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// Blocking main and waiting for shutdown.
		select {
		case err := <-serverErrors:
			// Error when starting HTTP server.
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			// Give outstanding requests a deadline for completion. Open SSE
			// streams hold their connections, so this regularly times out
			// and falls through to Close.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// Asking listener to shut down and shed load.
			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}

			// Cancel in-flight runs and wait for their records to archive.
			runCtx, runCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer runCancel()
			if err := manager.Shutdown(runCtx); err != nil {
				fmt.Printf("Runs did not drain in time: %v\n", err)
			}
			fmt.Println("Espalier Server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (overrides http.listen from the config)")
}
