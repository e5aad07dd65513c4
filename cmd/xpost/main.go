// Package main runs the xpost service: an HTTP API that posts to X by
// driving a real browser session with stored, encrypted credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/xpost/pkg/browser"
	"github.com/entrhq/xpost/pkg/config"
	"github.com/entrhq/xpost/pkg/genai"
	"github.com/entrhq/xpost/pkg/identity"
	"github.com/entrhq/xpost/pkg/media"
	"github.com/entrhq/xpost/pkg/poster"
	"github.com/entrhq/xpost/pkg/scheduler"
	"github.com/entrhq/xpost/pkg/server"
	"github.com/entrhq/xpost/pkg/session"
	"github.com/entrhq/xpost/pkg/snapshot"
	"github.com/entrhq/xpost/pkg/store"
	"github.com/entrhq/xpost/pkg/vault"
)

const version = "0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	captureUser := flag.String("capture", "", "capture a session interactively for the given user id, then exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("xpost v%s\n", version)
		return
	}

	if err := run(*captureUser); err != nil {
		log.Fatalf("xpost: %v", err)
	}
}

func run(captureUser string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sessionVault, err := vault.New(cfg.VaultKey, records)
	if err != nil {
		return fmt.Errorf("vault init failed: %w", err)
	}

	validator := session.NewValidator(records)
	sched := scheduler.New(records, time.Duration(cfg.CooldownSeconds)*time.Second, cfg.MinDelay, cfg.MaxDelay)

	pipeline, err := media.NewPipeline(cfg.MediaCacheDir, cfg.MediaCacheTTL)
	if err != nil {
		return fmt.Errorf("media pipeline init failed: %w", err)
	}

	driver, err := buildDriver(ctx, cfg)
	if err != nil {
		return err
	}
	defer driver.Stop()

	flow := poster.NewBrowserFlow(driver, poster.Timeouts{
		Login:    cfg.LoginTimeout,
		Composer: cfg.ComposerTimeout,
		Media:    cfg.MediaTimeout,
		Confirm:  cfg.ConfirmTimeout,
	})

	svc := poster.NewService(sched, validator, sessionVault, pipeline, flow, records,
		poster.WithCapturer(driver),
		poster.WithCaptureWindow(cfg.CaptureWait, cfg.SessionTTL))

	if captureUser != "" {
		expiresAt, err := svc.CaptureSession(ctx, captureUser)
		if err != nil {
			return fmt.Errorf("session capture failed: %w", err)
		}
		log.Printf("session stored for %s, valid until %s", captureUser, expiresAt.Format(time.RFC3339))
		return nil
	}

	verifier, err := identity.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("identity init failed: %w", err)
	}

	var generator genai.Generator
	if cfg.OpenAIKey != "" {
		generator, err = genai.NewOpenAIGenerator(cfg.OpenAIKey)
		if err != nil {
			return fmt.Errorf("genai init failed: %w", err)
		}
	}

	srv := server.New(server.Options{Port: cfg.Port}, verifier, svc, validator, records, generator)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore picks Postgres when a DSN is configured, memory otherwise.
// The memory store is for local development only; everything in it dies
// with the process.
func openStore(ctx context.Context, cfg config.Config) (store.Records, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("no database configured, using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("store init failed: %w", err)
	}
	return pg, func() { pg.Close() }, nil
}

func buildDriver(ctx context.Context, cfg config.Config) (*browser.Driver, error) {
	profile := browser.DefaultProfile()
	if cfg.StealthProfilePath != "" {
		var err error
		profile, err = browser.LoadProfile(cfg.StealthProfilePath)
		if err != nil {
			return nil, fmt.Errorf("stealth profile load failed: %w", err)
		}
	}

	var checkpoint browser.Checkpoint = browser.NopCheckpoint{}
	if cfg.SnapshotBucket != "" {
		uploader, err := snapshot.NewUploader(ctx, snapshot.Options{
			Bucket:   cfg.SnapshotBucket,
			Region:   cfg.SnapshotRegion,
			Endpoint: cfg.SnapshotEndpoint,
			Prefix:   "xpost-debug",
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot uploader init failed: %w", err)
		}
		checkpoint = uploader
	}

	driver, err := browser.NewDriver(browser.Options{
		RemoteURL:  remoteURL(cfg),
		Headless:   cfg.Headless,
		Profile:    profile,
		Checkpoint: checkpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("browser driver init failed: %w", err)
	}
	return driver, nil
}

// remoteURL appends the access token to the CDP endpoint when both are
// configured.
func remoteURL(cfg config.Config) string {
	if cfg.RemoteBrowserURL == "" {
		return ""
	}
	if cfg.RemoteBrowserToken == "" {
		return cfg.RemoteBrowserURL
	}
	return fmt.Sprintf("%s?token=%s", cfg.RemoteBrowserURL, cfg.RemoteBrowserToken)
}
