package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"appointment-chat/internal/app"
	"appointment-chat/internal/auth"
	"appointment-chat/internal/config"
	"appointment-chat/internal/dialog"
	"appointment-chat/internal/faq"
	"appointment-chat/internal/integrations/gcal"
	"appointment-chat/internal/integrations/gemini"
	"appointment-chat/internal/integrations/openai"
	"appointment-chat/internal/logger"
	"appointment-chat/internal/middleware"
	"appointment-chat/internal/scheduling"
	"appointment-chat/internal/server"
	"appointment-chat/internal/session"
	"appointment-chat/internal/store/memstore"
	"appointment-chat/internal/store/postgres"
)

// backend is everything the session machine and scheduler persist through.
type backend interface {
	session.CredentialStore
	session.ProfileStore
	session.HistoryStore
	session.FeedbackStore
	scheduling.BookingStore
	app.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", "error", err)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	gen, tox, closeLLM, err := openCapabilities(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLLM()

	var matcher dialog.FAQMatcher
	if entries, err := faq.Load(cfg.FAQFile); err != nil {
		log.Warn("faq unavailable, continuing without it", "file", cfg.FAQFile, "error", err)
	} else {
		log.Info("faq loaded", "file", cfg.FAQFile, "entries", len(entries))
		matcher = faq.NewMatcher(entries)
	}

	router := dialog.NewRouter(dialog.Config{
		SystemPrompt: cfg.SystemPrompt,
		HistoryLimit: cfg.HistoryLimit,
		Timeout:      cfg.LLMTimeout,
		FAQThreshold: cfg.FAQThreshold,
	}, tox, matcher, gen, log)

	oauth := gcal.NewOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	var opts []scheduling.Option
	if cfg.CalendarMirrorEnabled() {
		mirror, err := gcal.NewMirror(ctx, oauth, cfg.GoogleRefreshToken, cfg.GoogleCalendarID, cfg.CalendarTZ, log)
		if err != nil {
			return fmt.Errorf("calendar mirror: %w", err)
		}
		opts = append(opts, scheduling.WithMirror(mirror))
		log.Info("calendar mirror enabled", "calendar_id", cfg.GoogleCalendarID)
	}
	booking, err := scheduling.NewService(store, log, opts...)
	if err != nil {
		return err
	}

	machine, err := session.NewMachine(session.Deps{
		Credentials: store,
		Profiles:    store,
		History:     store,
		Feedback:    store,
		Cache:       cache,
		Router:      router,
		Scheduler:   booking,
	}, log)
	if err != nil {
		return err
	}

	a, err := app.New(machine, booking, auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL), store, log)
	if err != nil {
		return err
	}
	a.OAuth = oauth

	limiter := middleware.NewRateLimiter(cfg.AuthRPS, cfg.AuthBurst, log)
	handler := a.Router(app.RouterOptions{
		AllowOrigins: cfg.AllowOrigins(),
		AuthLimiter:  limiter,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, server.Addr(cfg.AppPort), handler, log)
	})
	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if werr := booking.Wait(drainCtx); werr != nil {
		log.Warn("calendar mirror calls still pending at shutdown", "error", werr)
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (backend, func(), error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema applied")
	}
	return pg, pg.Close, nil
}

func openCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (session.Cache, func(), error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryCache(cfg.SessionTTL), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("session cache on redis", "addr", cfg.RedisAddr)
	return session.NewRedisCache(rdb, cfg.SessionTTL), func() { _ = rdb.Close() }, nil
}

// openCapabilities builds the text generator and toxicity checker. A nil
// result leaves the router on its unavailable fallback for that capability.
func openCapabilities(ctx context.Context, cfg *config.Config, log *logger.Logger) (dialog.TextGenerator, dialog.ToxicityChecker, func(), error) {
	var (
		gen     dialog.TextGenerator
		tox     dialog.ToxicityChecker
		closeFn = func() {}
		oa      *openai.Client
	)

	openaiClient := func() (*openai.Client, error) {
		if oa != nil {
			return oa, nil
		}
		c, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, openai.WithBaseURL(cfg.OpenAIBaseURL))
		if err != nil {
			return nil, err
		}
		oa = c
		return c, nil
	}

	switch strings.ToLower(cfg.LLMProvider) {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Warn("GEMINI_API_KEY not set; replies will use the fallback message")
			break
		}
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, 0.5)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("gemini client: %w", err)
		}
		gen = c
		closeFn = func() { _ = c.Close() }
	case "openai":
		c, err := openaiClient()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("openai client: %w", err)
		}
		gen = c
	case "", "none":
		log.Warn("text generation disabled")
	default:
		return nil, nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}

	switch strings.ToLower(cfg.Toxicity) {
	case "keywords":
		tox = dialog.NewKeywordToxicity(dialog.DefaultBlocklist)
	case "openai":
		c, err := openaiClient()
		if err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("openai moderation: %w", err)
		}
		tox = c
	case "", "none":
		log.Warn("toxicity screening disabled")
	default:
		closeFn()
		return nil, nil, nil, fmt.Errorf("unknown TOXICITY %q", cfg.Toxicity)
	}
	return gen, tox, closeFn, nil
}
