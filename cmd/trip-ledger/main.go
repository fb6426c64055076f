package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/trip-ledger/internal/blobstore"
	"github.com/zombor/trip-ledger/internal/currency"
	"github.com/zombor/trip-ledger/internal/kvstore"
	"github.com/zombor/trip-ledger/internal/receipt"
	"github.com/zombor/trip-ledger/internal/scanning"
	"github.com/zombor/trip-ledger/internal/server"
	"github.com/zombor/trip-ledger/internal/snapshot"
	"github.com/zombor/trip-ledger/internal/syncer"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// model is an extractor that can also answer questions
type model interface {
	scanning.Extractor
	scanning.Answerer
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("trip-ledger")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "trip-ledger.db", "Key-value database file path")
		kvBackend     = fs.StringLong("kv-backend", "bolt", "Key-value backend: 'bolt' or 'sqlite'")
		blobBackend   = fs.StringLong("blob-backend", "fs", "Image storage backend: 'fs' or 's3'")
		storagePath   = fs.StringLong("storage", "./images", "Image storage directory (fs backend)")
		s3Bucket      = fs.StringLong("s3-bucket", "", "S3 bucket for images")
		s3Prefix      = fs.StringLong("s3-prefix", "images", "Key prefix inside the S3 bucket")
		s3Region      = fs.StringLong("s3-region", "us-east-1", "S3 region")
		s3Endpoint    = fs.StringLong("s3-endpoint", "", "S3 endpoint override (MinIO, R2, ...)")
		s3AccessKey   = fs.StringLong("s3-access-key", "", "S3 access key (default credential chain if empty)")
		s3SecretKey   = fs.StringLong("s3-secret-key", "", "S3 secret key")
		ratesURL      = fs.StringLong("rates-url", currency.DefaultBaseURL, "Historical exchange rate API base URL")
		rateFloorYear = fs.IntLong("rate-floor-year", currency.DefaultFloorYear, "Earliest year searched for a fallback rate")
		probeURL      = fs.StringLong("probe-url", currency.DefaultBaseURL, "URL probed for connectivity (empty to rely on clients)")
		probeInterval = fs.DurationLong("probe-interval", 15*time.Second, "Connectivity probe interval")
		scannerType   = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'none'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("TRIP_LEDGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize key-value store
	slog.Info("Initializing database...", "backend", *kvBackend, "path", *dbPath)
	var backend kvstore.Backend
	var err error
	switch *kvBackend {
	case "bolt":
		backend, err = kvstore.NewBoltBackend(*dbPath)
	case "sqlite":
		backend, err = kvstore.NewSQLiteBackend(ctx, *dbPath)
	default:
		err = fmt.Errorf("unknown backend %q, valid: bolt or sqlite", *kvBackend)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	store := kvstore.New(backend)
	defer store.Close()

	// Initialize image storage
	slog.Info("Initializing storage...", "backend", *blobBackend)
	var blobs blobstore.Storage
	switch *blobBackend {
	case "fs":
		blobs, err = blobstore.NewLocalStorage(*storagePath)
	case "s3":
		blobs, err = blobstore.NewS3Storage(ctx, blobstore.S3Config{
			Bucket:    *s3Bucket,
			Prefix:    *s3Prefix,
			Region:    *s3Region,
			Endpoint:  *s3Endpoint,
			AccessKey: *s3AccessKey,
			SecretKey: *s3SecretKey,
		})
	default:
		err = fmt.Errorf("unknown backend %q, valid: fs or s3", *blobBackend)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	repo, err := receipt.NewRepository(store, blobs)
	if err != nil {
		slog.Error("Failed to open repository", "error", err)
		os.Exit(1)
	}

	// Sync engine starts offline; the probe or a client flips it
	engine := syncer.NewEngine(repo)
	repo.SetConnectivity(engine)
	if err := engine.Resume(ctx); err != nil {
		slog.Error("Failed to resume sync", "error", err)
		os.Exit(1)
	}

	var monitor *syncer.Monitor
	if *probeURL != "" {
		monitor = syncer.NewMonitor(engine, syncer.NewHTTPProbe(*probeURL, 5*time.Second), *probeInterval)
		if err := monitor.Start(ctx); err != nil {
			slog.Error("Failed to start connectivity monitor", "error", err)
			os.Exit(1)
		}
	}

	rates := currency.NewCache(store, currency.NewFrankfurter(*ratesURL), *rateFloorYear)

	// Initialize scanner based on type
	var scanner model
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	case "none":
		slog.Warn("Receipt scanning disabled")
	default:
		err = fmt.Errorf("invalid scanner type %q, valid: gemini, ollama or none", *scannerType)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}

	svc := server.Services{
		Repository: repo,
		Engine:     engine,
		Rates:      rates,
		Snapshots:  snapshot.NewManager(repo, blobs),
	}
	if scanner != nil {
		defer scanner.Close()
		svc.Extractor = scanner
		svc.Answerer = scanner
	}

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           server.NewServer(svc, basicAuth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
	if monitor != nil {
		if err := monitor.Stop(shutdownCtx); err != nil {
			slog.Error("Failed to stop connectivity monitor", "error", err)
		}
	}

	// In-flight batches finish so receipts are not left syncing
	engine.Wait()
	slog.Info("Stopped")
}
