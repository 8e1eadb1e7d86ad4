package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/qnbridge/feelfit-bridge/internal/auth"
	"github.com/qnbridge/feelfit-bridge/internal/credential"
	"github.com/qnbridge/feelfit-bridge/internal/feelfit"
	"github.com/qnbridge/feelfit-bridge/internal/router"
	"github.com/qnbridge/feelfit-bridge/internal/snapshot"
	"github.com/qnbridge/feelfit-bridge/pkg/database"
	"github.com/qnbridge/feelfit-bridge/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting feelfit-bridge")

	// init credential store
	cfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	defer sqlxDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := credential.NewService(sqlxDB, nil)
	if err := creds.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure credentials table: %v", err)
	}

	state, err := creds.Load(ctx)
	if err != nil && !errors.Is(err, credential.ErrNotConfigured) {
		sugar.Fatalf("load credentials: %v", err)
	}
	if state == nil {
		state = &credential.State{}
	}

	// env overrides let a fresh install boot without a seeded row
	email := state.Email
	if v := os.Getenv("FEELFIT_EMAIL"); v != "" {
		email = v
	}
	if email == "" {
		sugar.Fatal("no account email configured (FEELFIT_EMAIL or credential store)")
	}
	if state.ID == 0 || email != state.Email {
		id, err := creds.Register(ctx, email)
		if err != nil {
			sugar.Fatalf("register credential row: %v", err)
		}
		state.ID = id
	}

	selected := state.SelectedProfiles
	if v := os.Getenv("FEELFIT_SELECTED_PROFILES"); v != "" {
		selected = strings.Split(v, ",")
		for i := range selected {
			selected[i] = strings.TrimSpace(selected[i])
		}
		if err := creds.StoreSelectedProfiles(ctx, state.ID, selected); err != nil {
			sugar.Warnf("store selected profiles: %v", err)
		}
	}

	client := feelfit.NewClient(sugar, email, feelfit.ConfigFromEnv())
	client.Token = state.Token
	if len(state.UserInfo) > 0 {
		client.UserInfo = state.UserInfo
	}

	if client.Token == "" {
		password := os.Getenv("FEELFIT_PASSWORD")
		if password == "" {
			sugar.Fatal("no stored token and FEELFIT_PASSWORD not set")
		}
		if _, err := client.Login(ctx, password); err != nil {
			sugar.Fatalf("feelfit login: %v", err)
		}
		if err := creds.StoreSession(ctx, state.ID, client.Token, client.UserInfo); err != nil {
			sugar.Warnf("store session: %v", err)
		}
	}

	// local API password bootstrap
	if pw := os.Getenv("LOCAL_API_PASSWORD"); pw != "" {
		if hash, err := auth.HashPassword(pw); err != nil {
			sugar.Warnf("hash local api password: %v", err)
		} else if err := creds.StoreAPIPasswordHash(ctx, state.ID, hash); err != nil {
			sugar.Warnf("store local api password: %v", err)
		}
	}

	snapSvc := snapshot.NewService(sugar, client, selected)

	// initial fetch is best-effort; the scheduler retries via /refresh
	if _, err := snapSvc.RefreshNow(ctx); err != nil {
		sugar.Warnf("initial fetch failed (will retry on next refresh): %v", err)
	}

	authSvc := auth.NewService(auth.ConfigFromEnv())
	authHandler := auth.NewHandler(sugar, authSvc, creds)
	snapHandler := snapshot.NewHandler(sugar, snapSvc)

	addr := os.Getenv("FEELFIT_BRIDGE_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8436"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: router.RegisterRoutes(sugar, snapHandler, authSvc, authHandler),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	sugar.Infow("bridge is running; press Ctrl+C to stop", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if err := sqlDB.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
