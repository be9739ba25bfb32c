package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"levelbook/internal/book"
	"levelbook/internal/config"
	"levelbook/internal/feed"
	"levelbook/internal/server"
	"levelbook/internal/state"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config.yaml: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)

	logger.Info("levelbook starting",
		slog.Int("port", cfg.Port),
		slog.String("symbol", cfg.Symbol),
		slog.String("source", cfg.Source),
		slog.Int("levels", cfg.Levels),
		slog.String("feed_gateway_url", cfg.FeedGatewayURL),
	)

	// State
	st := state.NewState(cfg.Symbol, cfg.Source)

	// Feed gateway client + websocket feed
	client := feed.NewClient(cfg.FeedGatewayURL, logger)
	orderFeed := feed.NewWSFeed(client, logger)

	// The active book; /api/subscribe swaps it for a fresh one.
	var (
		bookMu sync.Mutex
		active *book.Book
	)
	var srv *server.HTTPServer

	openBook := func(symbol, source string, levels int) error {
		bookMu.Lock()
		defer bookMu.Unlock()

		// Close first: the old book's detach would otherwise tear down a new
		// subscription for the same symbol/source.
		if active != nil {
			active.Close()
			active = nil
		}

		nb, err := book.New(orderFeed, symbol, source, levels, logger)
		if err != nil {
			return err
		}
		nb.SetOnNewBook(func(set book.PriceLevelSet) {
			st.RecordBook(set, time.Now())
			srv.BroadcastNewBook(set)
		})
		nb.SetOnBookUpdate(func(set book.PriceLevelSet) {
			st.RecordBook(set, time.Now())
			srv.BroadcastBook(set)
		})
		nb.SetOnIncrementalChange(func(cs book.ChangeSet) {
			srv.BroadcastChanges(cs)
		})

		active = nb
		return nil
	}

	closeBook := func() {
		bookMu.Lock()
		defer bookMu.Unlock()
		if active != nil {
			active.Close()
			active = nil
		}
	}

	// HTTP server + WS hub
	srv = server.NewHTTPServer(cfg, st, openBook, closeBook, logger)

	if err := openBook(cfg.Symbol, cfg.Source, cfg.Levels); err != nil {
		logger.Error("open book", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Context & signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start feed (connect loop)
	go orderFeed.Run(ctx, func(connected bool) {
		st.SetConnected(connected)
		// Push status to clients
		srv.BroadcastStatus()
	})

	// Pipe feed errors → log + hub
	go func() {
		for {
			select {
			case err, ok := <-orderFeed.Errors():
				if !ok {
					return
				}
				if err != nil {
					logger.Error("order feed error", slog.String("err", err.Error()))
					srv.BroadcastError(err.Error())
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP serving
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Router(),
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	// Graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	_ = httpSrv.Shutdown(shCtx)

	bookMu.Lock()
	if active != nil {
		active.Close()
	}
	bookMu.Unlock()

	orderFeed.Close()
	<-done
	logger.Info("bye")
}
