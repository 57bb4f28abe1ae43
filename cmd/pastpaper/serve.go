package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/pavelanni/pastpaper/internal/attempts"
	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/engine"
	"github.com/pavelanni/pastpaper/internal/handler"
	appI18n "github.com/pavelanni/pastpaper/internal/i18n"
	"github.com/pavelanni/pastpaper/internal/importer"
	"github.com/pavelanni/pastpaper/internal/model"
	"github.com/pavelanni/pastpaper/internal/telemetry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP assessment server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("papers", nil, "Paper files or directories to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("jwt-secret", "", "HS256 secret for student tokens (or set PASTPAPER_JWT_SECRET)")
	f.String("admin-user", "admin", "Admin user name")
	f.String("admin-password-hash", "", "bcrypt hash of the admin password")
	f.String("admin-password", "", "Admin password, hashed at startup when no hash is given")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (empty disables CORS)")
	f.Int64("max-upload-bytes", 8<<20, "Maximum paper upload size")
	f.Duration("grade-timeout", 30*time.Second, "Upper bound on one grading call")
	f.String("otel-endpoint", "", "OTLP/HTTP traces endpoint (empty disables tracing)")
	addDBFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, v.GetString("otel-endpoint"), "pastpaper", version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("flush traces", "error", err)
		}
	}()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	b := bank.New(db)
	if paths := v.GetStringSlice("papers"); len(paths) > 0 {
		im := importer.New(db)
		im.OnStored = b.Invalidate
		if _, err := importPaths(ctx, im, paths); err != nil {
			return fmt.Errorf("import papers: %w", err)
		}
	}

	cfg := model.ServeConfig{
		Addr:              v.GetString("addr"),
		Lang:              lang,
		JWTSecret:         v.GetString("jwt-secret"),
		AdminUser:         v.GetString("admin-user"),
		AdminPasswordHash: v.GetString("admin-password-hash"),
		CORSOrigins:       v.GetStringSlice("cors-origins"),
		MaxUploadBytes:    v.GetInt64("max-upload-bytes"),
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required: set --jwt-secret or PASTPAPER_JWT_SECRET")
	}
	if cfg.AdminPasswordHash == "" {
		if pw := v.GetString("admin-password"); pw != "" {
			hash, err := handler.HashPassword(pw)
			if err != nil {
				return fmt.Errorf("hash admin password: %w", err)
			}
			cfg.AdminPasswordHash = hash
		} else {
			slog.Warn("no admin password configured, admin API disabled")
		}
	}

	manager := attempts.New(b, engine.LocalGrader{}, db, attempts.WithGradeTimeout(v.GetDuration("grade-timeout")))
	if err := manager.Run(); err != nil {
		return err
	}
	defer manager.Close()

	h, err := handler.New(db, b, manager, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RedactToken)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
			ExposedHeaders:   []string{"Content-Language"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with the signal context so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Addr,
			"lang", lang,
			"db_driver", v.GetString("db-driver"),
			"cors_origins", cfg.CORSOrigins,
			"version", version,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
