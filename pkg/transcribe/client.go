// Package transcribe implements the Transcription Client (component
// E): a persistent full-duplex session to a cloud transcription
// provider, modeled on the OpenAI Realtime transcription API's wire
// shape and the source's realtime_stt_client.py session bookkeeping.
package transcribe

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/voxpipe/pkg/ingest"
)

// Callbacks receives demultiplexed provider events. Any field left
// nil is simply not invoked.
type Callbacks struct {
	OnPartial       func(delta string)
	OnFinal         func(transcript string)
	OnSpeechStarted func()
	OnSpeechStopped func()
	OnError         func(code, message string)
}

// Config configures one Client.
type Config struct {
	URL        string // e.g. wss://api.openai.com/v1/realtime?intent=transcription
	APIKey     string
	Model      string
	Language   string
	Policy     ingest.TurnDetectionPolicy
	NoiseProfile string // default "near_field"
}

// Client is a persistent, full-duplex transcription session. Safe
// for concurrent use: Append/Commit/Clear and the receive loop share
// a single mutex, matching the teacher's lokutor.go client.
type Client struct {
	cfg Config
	log ingest.Logger
	cb  Callbacks

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	appendedChunks int
	pendingAppends int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Client. Connect must be called before use.
func New(cfg Config, cb Callbacks, log ingest.Logger) *Client {
	if log == nil {
		log = ingest.NoOpLogger{}
	}
	if cfg.NoiseProfile == "" {
		cfg.NoiseProfile = "near_field"
	}
	return &Client{cfg: cfg, log: log, cb: cb}
}

// Connect dials the provider socket and sends the initial
// transcription_session.update configuration message, then starts
// the receive loop. ctx bounds the lifetime of the connection; it is
// retained for the duration of the session (every subsequent send
// uses it), matching the persistent-socket model this client
// implements.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return ingest.ErrMissingCredentials
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("transcribe: invalid url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: authHeader(c.cfg.APIKey),
	})
	if err != nil {
		return fmt.Errorf("transcribe: dial: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.ctx = sessCtx
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.configureSession(sessCtx); err != nil {
		c.disconnect()
		return err
	}

	go c.receiveLoop(sessCtx)
	return nil
}

func (c *Client) configureSession(ctx context.Context) error {
	turnDetection := map[string]interface{}(nil)
	if c.cfg.Policy == ingest.PolicyServerVAD {
		turnDetection = map[string]interface{}{
			"type":               "server_vad",
			"threshold":          0.6,
			"prefix_padding_ms":  500,
			"silence_duration_ms": 800,
		}
	}
	msg := map[string]interface{}{
		"type": "transcription_session.update",
		"session": map[string]interface{}{
			"input_audio_format": "pcm16",
			"input_audio_transcription": map[string]interface{}{
				"model": c.cfg.Model,
			},
			"turn_detection": turnDetection,
			"input_audio_noise_reduction": map[string]interface{}{
				"type": c.cfg.NoiseProfile,
			},
		},
	}
	return c.write(ctx, msg)
}

// Append sends one exactly-960-byte chunk to the provider. A wrong
// size is a programmer error: it fails loudly and never advances any
// counter. A socket-closed error is soft: the client transitions to
// disconnected and returns ErrDisconnected without panicking.
func (c *Client) Append(chunk []byte) error {
	if len(chunk) != ingest.ChunkBytes {
		return ingest.ErrChunkSize
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ingest.ErrDisconnected
	}
	ctx := c.ctx
	c.pendingAppends++
	c.mu.Unlock()

	msg := map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	}
	err := c.write(ctx, msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingAppends--
	if err != nil {
		c.connected = false
		return ingest.ErrDisconnected
	}
	c.appendedChunks++
	return nil
}

// BufferedMs returns appended_chunks * 20, the spec's derived buffer
// duration.
func (c *Client) BufferedMs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendedChunks * ingest.ChunkDurationMs
}

func (c *Client) pendingMs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingAppends * ingest.ChunkDurationMs
}

// Commit refuses unless buffered_ms >= 100 and in-flight * 20 < 100,
// waiting for in-flight appends to drain first (poll every 10ms, 1s
// ceiling), then issues the commit and resets counters.
func (c *Client) Commit() error {
	if c.BufferedMs() < 100 {
		return fmt.Errorf("transcribe: commit refused, buffered_ms < 100")
	}
	if err := c.flush(); err != nil {
		return err
	}
	if c.pendingMs() >= 100 {
		return fmt.Errorf("transcribe: commit refused, in-flight appends still pending")
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ingest.ErrDisconnected
	}
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.write(ctx, map[string]interface{}{"type": "input_audio_buffer.commit"}); err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return ingest.ErrDisconnected
	}

	c.mu.Lock()
	c.appendedChunks = 0
	c.pendingAppends = 0
	c.mu.Unlock()
	return nil
}

// Clear sends input_audio_buffer.clear and unconditionally zeroes
// every counter.
func (c *Client) Clear() error {
	c.mu.Lock()
	if !c.connected {
		c.appendedChunks = 0
		c.pendingAppends = 0
		c.mu.Unlock()
		return ingest.ErrDisconnected
	}
	ctx := c.ctx
	c.mu.Unlock()

	err := c.write(ctx, map[string]interface{}{"type": "input_audio_buffer.clear"})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendedChunks = 0
	c.pendingAppends = 0
	if err != nil {
		c.connected = false
		return ingest.ErrDisconnected
	}
	return nil
}

func (c *Client) flush() error {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.pendingMs() == 0 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Connected reports the current liveness signal.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) write(ctx context.Context, v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ingest.ErrDisconnected
	}
	return wsjson.Write(ctx, conn, v)
}

func (c *Client) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusAbnormalClosure, "")
	}
}

// Close tears down the session.
func (c *Client) Close() error {
	c.disconnect()
	return nil
}

func authHeader(apiKey string) map[string][]string {
	return map[string][]string{
		"Authorization": {"Bearer " + apiKey},
	}
}
