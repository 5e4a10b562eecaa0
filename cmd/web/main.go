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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/cart"
	mw "finitefield.org/fashion-web/internal/middleware"
	"finitefield.org/fashion-web/internal/platform/config"
	"finitefield.org/fashion-web/internal/platform/observability"
	"finitefield.org/fashion-web/internal/platform/secrets"
	"finitefield.org/fashion-web/internal/storeapi"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// server holds the process wide dependencies shared by every handler.
type server struct {
	cfg      config.Config
	logger   *zap.Logger
	api      *storeapi.Client
	carts    *cart.Registry
	sessions *mw.Sessions
	verifier auth.TokenVerifier
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "web: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	lookup, err := config.Lookup()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	level, ok := lookup("WEB_LOG_LEVEL")
	if !ok {
		level, _ = lookup("LOG_LEVEL")
	}
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("web")

	projectID, _ := lookup("WEB_SECRETS_PROJECT_ID")
	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(projectID),
	)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Error("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		return fmt.Errorf("load config: %w", err)
	}
	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.Firebase.ProjectID != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		switch {
		case err == nil:
			srv.verifier = verifier
		case cfg.IsProduction():
			return fmt.Errorf("firebase verifier: %w", err)
		default:
			logger.Warn("firebase verifier unavailable; only debug sign-in works", zap.Error(err))
		}
	}
	if srv.api.Fake() != nil {
		logger.Warn("WEB_API_BASE_URL is empty; serving the in-memory storefront backend")
	}

	go srv.sweepCarts(ctx, cfg.Cart.SweepInterval)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web listening",
			zap.String("addr", httpServer.Addr),
			zap.String("env", cfg.Env),
			zap.Bool("serializeMutations", cfg.Cart.SerializeMutations),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newServer(cfg config.Config, logger *zap.Logger) (*server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := storeapi.NewClient(cfg.API.BaseURL, storeapi.WithTimeout(cfg.API.Timeout))
	if err != nil {
		return nil, fmt.Errorf("storefront client: %w", err)
	}
	sessions, err := mw.NewSessions(cfg.Session.SigningKey, cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	return &server{
		cfg:    cfg,
		logger: logger,
		api:    api,
		carts: cart.NewRegistry(
			cart.WithIdleTTL(cfg.Cart.IdleTTL),
			cart.WithSerializedMutations(cfg.Cart.SerializeMutations),
		),
		sessions: sessions,
	}, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	// RealIP trusts X-Forwarded-For; only the load balancer may set it in production.
	r.Use(chimw.RealIP)
	r.Use(observability.Trace(s.cfg.Secrets.ProjectID))
	r.Use(observability.InjectLogger(s.logger))
	r.Use(observability.Recovery(s.logger))
	r.Use(chimw.Timeout(requestTimeout))
	r.Use(mw.HTMX)
	r.Use(s.sessions.Middleware)
	r.Use(mw.Auth(s.verifier, !s.cfg.IsProduction()))
	r.Use(observability.RequestLogger)
	r.Use(mw.CSRF(s.sessions.Secure()))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", s.cartShow)
		r.Post("/reload", s.cartReload)
		r.Post("/items", s.cartAdd)
		r.Patch("/items/{cartKey}", s.cartUpdate)
		r.Delete("/items/{cartKey}", s.cartRemove)
		r.Delete("/", s.cartClear)
		r.Put("/selection", s.cartSelect)
		r.Delete("/selection", s.cartDeselect)
	})
	r.Post("/logout", s.logout)

	r.Route("/account/addresses", func(r chi.Router) {
		r.Get("/", s.addressList)
		r.Post("/", s.addressCreate)
		r.Put("/{addressID}", s.addressUpdate)
		r.Delete("/{addressID}", s.addressDelete)
		r.Post("/{addressID}/default", s.addressSetDefault)
	})

	r.Route("/messages", func(r chi.Router) {
		r.Get("/", s.conversationList)
		r.Get("/{conversationID}", s.messageList)
		r.Post("/{conversationID}", s.messageSend)
	})
	return r
}

// sweepCarts evicts idle session carts until ctx is cancelled.
func (s *server) sweepCarts(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.carts.Sweep(now); removed > 0 {
				s.logger.Debug("evicted idle carts", zap.Int("removed", removed), zap.Int("live", s.carts.Len()))
			}
		}
	}
}

// logout forgets the local cart and the signed-in customer.
func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	sess := mw.GetSession(r)
	s.carts.Drop(sess.ID)
	sess.SignOut()
	w.WriteHeader(http.StatusNoContent)
}
