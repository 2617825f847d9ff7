// Command server runs the signaling + ingest HTTP surface of
// spec.md §6: POST /offer, POST /{id}/hangup, GET /healthz, and
// GET /metrics, following cmd/agent's godotenv + os.Getenv
// configuration style.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/voxpipe/pkg/control"
	"github.com/lokutor-ai/voxpipe/pkg/ingest"
	"github.com/lokutor-ai/voxpipe/pkg/observe"
	"github.com/lokutor-ai/voxpipe/pkg/signaling"
	"github.com/lokutor-ai/voxpipe/pkg/transcribe"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	apiKey := os.Getenv("STT_PROVIDER_API_KEY")
	if apiKey == "" {
		log.Fatal("Error: STT_PROVIDER_API_KEY must be set")
	}
	providerURL := os.Getenv("STT_PROVIDER_URL")
	if providerURL == "" {
		providerURL = "wss://api.openai.com/v1/realtime?intent=transcription"
	}
	model := os.Getenv("STT_MODEL")
	if model == "" {
		model = "whisper-1"
	}
	language := os.Getenv("STT_LANGUAGE")

	policy := ingest.PolicyLocalVAD
	if os.Getenv("TURN_DETECTION") == "server" {
		policy = ingest.PolicyServerVAD
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	captureDir := os.Getenv("CAPTURE_DIR")

	sLog := observe.NewSlogLogger(slog.Default())

	mp, shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		log.Fatalf("Error: failed to initialize metrics provider: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(); err != nil {
			sLog.Warn("server: metrics shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		log.Fatalf("Error: failed to initialize metrics instruments: %v", err)
	}

	ingestCfg := func() ingest.Config {
		cfg := ingest.DefaultConfig()
		cfg.TurnDetection = policy
		cfg.CaptureDir = captureDir
		if v := os.Getenv("VAD_THRESHOLD"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.VADThreshold = f
			}
		}
		return cfg
	}
	sttCfg := func() transcribe.Config {
		return transcribe.Config{
			URL:      providerURL,
			APIKey:   apiKey,
			Model:    model,
			Language: language,
			Policy:   policy,
		}
	}

	mgr := signaling.New(devNegotiator(sLog), ingestCfg, sttCfg, metrics, sLog)
	handlers := signaling.NewHandlers(mgr, sLog)

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      observe.Middleware(metrics, sLog)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	fmt.Printf("voxpipe signaling server listening on %s (turn_detection=%s)\n", addr, policy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// devNegotiator returns a placeholder signaling.Negotiator. The real
// peer-connection stack is an external collaborator per spec.md §1 —
// no retrieved example repo's go.mod is the teacher's own, so wiring
// a concrete WebRTC stack here would mean adopting a dependency the
// teacher never uses. Production deployments inject a real
// implementation (e.g. backed by pion/webrtc) at this seam; this
// stub fails the negotiation loudly so misconfiguration is obvious
// rather than silently accepting media it can't actually receive.
func devNegotiator(log ingest.Logger) signaling.Negotiator {
	return func(_ context.Context, _ string, _ func(ingest.InputFrame), _ func([]byte)) (string, signaling.PeerConnection, control.Channel, error) {
		log.Error("signaling: no PeerConnection implementation wired; see cmd/server.devNegotiator")
		return "", nil, nil, fmt.Errorf("signaling: peer-connection stack not configured")
	}
}
