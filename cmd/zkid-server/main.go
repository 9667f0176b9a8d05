// Command zkid-server wires every verification subsystem together and serves spec §6's
// HTTP surface, following certenIO-certen-validator/main.go's bootstrap shape: flag parsing
// that overrides config, fail-fast on a required collaborator, an http.Server started in its
// own goroutine, and a signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/lib/pq"

	"github.com/zkidlabs/verifier/pkg/config"
	"github.com/zkidlabs/verifier/pkg/issuer"
	"github.com/zkidlabs/verifier/pkg/proof"
	"github.com/zkidlabs/verifier/pkg/revocation/indexed"
	"github.com/zkidlabs/verifier/pkg/revocation/smt"
	"github.com/zkidlabs/verifier/pkg/server"
	"github.com/zkidlabs/verifier/pkg/snarkverify"
	"github.com/zkidlabs/verifier/pkg/store"
	"github.com/zkidlabs/verifier/pkg/telemetry"
	"github.com/zkidlabs/verifier/pkg/verifier"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting zkid-server")

	var (
		listenAddr = flag.String("listen-addr", "", "HTTP listen address (overrides LISTEN_ADDR env var)")
	)
	flag.Parse()

	cfg := config.Load()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var revocationChecker verifier.RevocationChecker
	var revocationService server.RevocationService
	if cfg.RevocationBackend == "postgres" {
		tree, err := indexed.Open(ctx, cfg.DatabaseURL, cfg.RevocationTreeDepth,
			indexed.WithLogger(log.New(log.Writer(), "[revocation] ", log.LstdFlags)))
		if err != nil {
			log.Fatalf("failed to open indexed revocation tree: %v", err)
		}
		defer tree.Close()
		revocationChecker = verifier.IndexedChecker{Tree: tree}
		revocationService = server.IndexedRevocationService{Tree: tree}
		log.Printf("revocation tree backed by postgres, depth %d", cfg.RevocationTreeDepth)
	} else {
		tree, err := smt.New(cfg.RevocationTreeDepth)
		if err != nil {
			log.Fatalf("failed to create in-memory revocation tree: %v", err)
		}
		revocationChecker = verifier.SMTChecker{Tree: tree}
		revocationService = server.SMTRevocationService{Tree: tree}
		log.Printf("revocation tree backed by memory, depth %d", cfg.RevocationTreeDepth)
	}

	metricsRegistry := prometheus.NewRegistry()
	telemetryRecorder, err := telemetry.NewRecorder(metricsRegistry)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}

	verifyingKeys, err := loadVerifyingKeys(cfg.VerifyingKeysDir)
	if err != nil {
		log.Printf("warning: %v -- /verify will reject every proof until verifying keys are configured", err)
	}

	v := &verifier.Verifier{
		Config:         cfg.VerifierConfig(),
		VerifyingKeys:  verifyingKeys,
		ChallengeStore: store.NewChallengeStore(cfg.ChallengeTTL),
		NonceStore:     store.NewNonceStore(cfg.NonceTTL),
		Revocation:     revocationChecker,
		IssuerRegistry: issuer.NewRegistry(),
		Telemetry:      telemetryRecorder,
	}
	if cfg.RateLimitEnabled {
		v.RateLimiter = store.NewRateLimiter(cfg.RateLimitLimit, cfg.RateLimitWindow)
	}

	handlers := server.NewHandlers(v, v.ChallengeStore, revocationService, cfg.ServerProtocolVersion,
		log.New(log.Writer(), "[http] ", log.LstdFlags))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.Mux(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		log.Printf("zkid-server listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down zkid-server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	log.Printf("zkid-server stopped")
}

// loadVerifyingKeys reads one Groth16 verifying key file per proof variant from dir, named
// "<variant>.vk" (e.g. "age.vk", "age-revocable.vk"). A missing directory or missing
// individual files are not fatal -- gate 11 already reports a clear configuration error per
// variant when its key is absent (pkg/verifier.gateSnarkVerify).
func loadVerifyingKeys(dir string) (map[proof.Variant]snarkverify.VerifyingKey, error) {
	keys := make(map[proof.Variant]snarkverify.VerifyingKey)
	if dir == "" {
		return keys, fmt.Errorf("VERIFYING_KEYS_DIR is not configured")
	}
	variants := []proof.Variant{
		proof.VariantAge,
		proof.VariantNationality,
		proof.VariantAgeRevocable,
		proof.VariantAgeSigned,
		proof.VariantNationalitySigned,
	}
	var missing []string
	for _, variant := range variants {
		path := filepath.Join(dir, string(variant)+".vk")
		f, err := os.Open(path)
		if err != nil {
			missing = append(missing, string(variant))
			continue
		}
		vk, err := snarkverify.LoadVerifyingKey(f)
		f.Close()
		if err != nil {
			return keys, fmt.Errorf("loading verifying key for %q: %w", variant, err)
		}
		keys[variant] = vk
	}
	if len(missing) > 0 {
		return keys, fmt.Errorf("no verifying key file found for variants %v in %q", missing, dir)
	}
	return keys, nil
}
