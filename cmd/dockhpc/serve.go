package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"dock-orchestrator/api/rest/routes"
	"dock-orchestrator/core/monitoring"
	"dock-orchestrator/core/timing"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only campaign status API",
	Long: `Serve exposes the campaign's progress and timing over HTTP for
dashboards and watch scripts. Every endpoint is read-only; the server
never submits, cancels or modifies task records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		_, client := newSubmitter(store, cfg)
		monitor := monitoring.NewMonitor(store, client, log)
		reporter := timing.NewReporter(store)

		r := mux.NewRouter()
		routes.SetupRoutes(r, monitor, reporter)

		// Health check endpoint
		r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}).Methods("GET")

		server := &http.Server{
			Addr:    serveAddr,
			Handler: r,
		}

		// Graceful shutdown
		errCh := make(chan error, 1)
		go func() {
			log.WithField("addr", serveAddr).Info("status server listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-quit:
		}

		log.Info("shutting down status server")
		return server.Shutdown(context.Background())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}
