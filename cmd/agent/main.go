// Command agent is a local-microphone development harness: it drives
// the real ingest pipeline (pkg/session) from the machine's default
// capture device instead of a browser peer connection, so the
// normalize -> chunk -> VAD -> segment -> transcribe -> turn path can
// be exercised end-to-end without standing up signaling. Audio
// capture follows the teacher's original malgo wiring in this same
// file (RMS meter, device setup); everything downstream of the
// capture callback is the new pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/voxpipe/pkg/control"
	"github.com/lokutor-ai/voxpipe/pkg/ingest"
	"github.com/lokutor-ai/voxpipe/pkg/observe"
	"github.com/lokutor-ai/voxpipe/pkg/session"
	"github.com/lokutor-ai/voxpipe/pkg/transcribe"
)

// captureSampleRate is the device capture rate; 48kHz lets the
// normalizer exercise its 48k->24k/16k resampling path, same as the
// inbound Opus track would in production.
const captureSampleRate = 48000

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	apiKey := os.Getenv("STT_PROVIDER_API_KEY")
	if apiKey == "" {
		log.Fatal("Error: STT_PROVIDER_API_KEY must be set.")
	}
	providerURL := os.Getenv("STT_PROVIDER_URL")
	if providerURL == "" {
		providerURL = "wss://api.openai.com/v1/realtime?intent=transcription"
	}
	model := os.Getenv("STT_MODEL")
	if model == "" {
		model = "whisper-1"
	}

	policy := ingest.PolicyLocalVAD
	if os.Getenv("TURN_DETECTION") == "server" {
		policy = ingest.PolicyServerVAD
	}

	vadThreshold := 0.02
	if v := os.Getenv("VAD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			vadThreshold = f
		}
	}

	sLog := observe.NewSlogLogger(slog.Default())

	cfg := ingest.DefaultConfig()
	cfg.TurnDetection = policy
	cfg.VADThreshold = vadThreshold
	cfg.CaptureDir = os.Getenv("CAPTURE_DIR")

	tcfg := transcribe.Config{
		URL:      providerURL,
		APIKey:   apiKey,
		Model:    model,
		Language: os.Getenv("STT_LANGUAGE"),
		Policy:   policy,
	}

	fmt.Printf("Configured: provider=%s model=%s turn_detection=%s vad_threshold=%.3f\n",
		providerURL, model, policy, vadThreshold)
	fmt.Println("Voice ingest agent started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	ctrl := newConsoleChannel()
	sess := session.New("local-mic", cfg, tcfg, ctrl, observe.NoOpMetrics(), sLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		log.Fatalf("Error: failed to connect transcription session: %v", err)
	}
	defer sess.Close()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var rmsMu sync.Mutex
	lastRMS := 0.0

	onSamples := func(_, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}

		var sum float64
		for i := 0; i+1 < len(pInput); i += 2 {
			sample := int16(pInput[i]) | (int16(pInput[i+1]) << 8)
			f := float64(sample) / 32768.0
			sum += f * f
		}
		rms := math.Sqrt(sum / float64(len(pInput)/2))
		rmsMu.Lock()
		lastRMS = rms
		rmsMu.Unlock()

		samples := make([]int16, len(pInput)/2)
		for i := range samples {
			samples[i] = int16(pInput[i*2]) | int16(pInput[i*2+1])<<8
		}

		frame := ingest.InputFrame{
			SampleRate: captureSampleRate,
			Channels:   1,
			Format:     ingest.FormatS16,
			Int16:      samples,
		}
		if err := sess.PushFrame(frame); err != nil {
			sLog.Warn("agent: push frame failed", "err", err)
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = captureSampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go func() {
		for {
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()

			meter := ""
			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			fmt.Printf("\r[MIC ENERGY: %-40s] RMS: %.5f", meter, level)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Printf("\nShutting down...\n")
}

// consoleChannel prints every server->client envelope to stdout
// instead of relaying over a real control-channel transport, since
// this harness has no browser peer on the other end.
type consoleChannel struct{}

func newConsoleChannel() *consoleChannel { return &consoleChannel{} }

func (c *consoleChannel) Send(env control.Envelope) {
	switch env.Type {
	case "vad.speech_started":
		fmt.Printf("\r\033[K[VAD] speech started (turn %d)\n", derefTurn(env.TurnID))
	case "vad.speech_stopped":
		fmt.Printf("\r\033[K[VAD] speech stopped (turn %d)\n", derefTurn(env.TurnID))
	case "stt.partial":
		fmt.Printf("\r\033[K[PARTIAL] %s\n", env.Text)
	case "stt.final":
		fmt.Printf("\r\033[K[FINAL] %s\n", env.Text)
	case "stt.error":
		fmt.Printf("\r\033[K[ERROR] %s\n", env.Message)
	default:
		fmt.Printf("\r\033[K[%s] %s\n", env.Type, env.Message)
	}
}

func derefTurn(id *int) int {
	if id == nil {
		return 0
	}
	return *id
}
