package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/inkth/jifou/internal/util"
	"github.com/inkth/jifou/pkg/ai"
	"github.com/inkth/jifou/pkg/annotate"
	"github.com/inkth/jifou/pkg/store"
	"github.com/inkth/jifou/services/journal/internal/app"
	"github.com/inkth/jifou/services/journal/internal/config"
	"github.com/inkth/jifou/services/journal/internal/security"
	"github.com/inkth/jifou/services/journal/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)
	if cfg.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("jwt secret is the built-in placeholder; set JWT_SECRET before deploying")
	}

	sessionTTL, _ := config.ParseDuration(cfg.SessionTTL)
	jwtLeeway, _ := config.ParseDuration(cfg.JWTLeeway)
	aiTimeout, _ := config.ParseDuration(cfg.AITimeout)
	otpTTL, _ := config.ParseDuration(cfg.OTPTTL)
	otpResend, _ := config.ParseDuration(cfg.OTPResendAfter)
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("failed to load timezone: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Info("redis not configured; using in-memory otp store and token revoker, rate limiting disabled")
	}

	annCfg := annotate.Config{Timeout: aiTimeout, Seed: cfg.HeuristicSeed}
	if pc, ok := cfg.GeneratorConfig(); ok {
		gen, err := ai.NewTextGenerator(pc)
		if err != nil {
			log.Fatalf("failed to init text generator: %v", err)
		}
		annCfg.Generator = gen
		logger.Info("delegated annotation enabled", "provider", pc.Provider, "model", pc.Model)
	} else {
		logger.Info("heuristic annotation enabled")
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		JWTSecret:   cfg.JWTSecret,
		SessionTTL:  sessionTTL,
		JWT: store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   jwtLeeway,
		},
		Redis: redisClient,
		OTPOptions: store.OTPOptions{
			TTL:         otpTTL,
			ResendAfter: otpResend,
			MaxAttempts: cfg.OTPMaxAttempts,
		},
		Annotator:      annotate.New(annCfg),
		Location:       loc,
		MaxRecordLimit: cfg.MaxRecordLimit,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		Redis:                     redisClient,
		SendOTPRateLimitPerMinute: cfg.SendOTPRateLimitPerMinute,
		LoginRateLimitPerMinute:   cfg.LoginRateLimitPerMinute,
		TrustedProxies:            trusted,
		CORSAllowedOrigins:        cfg.CORSAllowedOrigins,
		OTPDebugEcho:              cfg.OTPDebugEcho,
		Alerter:                   security.NewAuditAlerter(redisClient, ""),
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("journal server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("journal server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
