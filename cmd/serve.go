package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1handlers "github.com/beagleboard/beaglemind/internal/api/v1/handlers"
	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/services"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/beagleboard/beaglemind/internal/web"
	"github.com/beagleboard/beaglemind/pkg/httpext"
	"github.com/beagleboard/beaglemind/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveDataset string
	serveWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web chat and HTTP API",
	Long: `Serve the BeagleMind web chat on / and the HTTP API under /v1.

Examples:
  beaglemind serve --addr :8080
  beaglemind serve --dataset beagleboard.jsonl --watch`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", config.GetEnvOrDefault("BEAGLEMIND_ADDR", ":8080"), "listen address")
	serveCmd.Flags().StringVar(&serveDataset, "dataset", "", "JSONL dataset to index at startup")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "re-index the dataset when it changes")
}

func setupRouter(svcs *services.Services) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		web.HandleIndex(svcs.GetSessionService(), w, req)
	}).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		httpext.JsonResponse(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"collections": svcs.GetStore().Collections(),
			"connections": svcs.GetConnectionManager().GetConnectionCount(),
		})
	}).Methods("GET")
	v1handlers.RegisterV1Routes(r, svcs)
	return r
}

func runServe(cmd *cobra.Command, args []string) error {
	l := logger.For(logger.APP)

	if serveWatch && serveDataset == "" {
		return errors.New("--watch needs --dataset")
	}

	resolver, err := newResolver()
	if err != nil {
		return err
	}
	// credentials are checked per request, a server may only serve ollama
	cfg, err := resolver.Load(config.Overrides{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, serveDataset)
	if err != nil {
		return err
	}

	svcs, err := services.InitializeServices(services.Options{Config: cfg, Store: store})
	if err != nil {
		return err
	}
	defer svcs.Close()

	if serveWatch {
		watcher, err := retrieval.NewWatcher(retrieval.NewIndexer(store), cfg.Collection, serveDataset)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				l.Error().Err(err).Msg("Dataset watcher stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:              serveAddr,
		Handler:           setupRouter(svcs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", serveAddr).Str("backend", string(cfg.Backend)).Msg("Server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	l.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
