package transcribe

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// event is the generic shape of every inbound provider message; only
// the fields relevant to the type in question are populated.
type event struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// receiveLoop decodes each inbound JSON message and dispatches on
// type, per spec 4.E. Socket close is soft for the client (sets
// disconnected) but fatal for the loop itself, which exits after
// surfacing a single error.
func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)
	for {
		var ev event
		err := wsjson.Read(ctx, c.conn, &ev)
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				c.log.Debug("transcribe: receive loop ending", "err", err)
			}
			if c.cb.OnError != nil {
				c.cb.OnError("connection_closed", err.Error())
			}
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev event) {
	switch ev.Type {
	case "transcription.delta", "conversation.item.input_audio_transcription.delta":
		if c.cb.OnPartial != nil {
			c.cb.OnPartial(ev.Delta)
		}
	case "transcription.completed", "conversation.item.input_audio_transcription.completed":
		if c.cb.OnFinal != nil {
			c.cb.OnFinal(ev.Transcript)
		}
	case "input_audio_buffer.speech_started":
		if c.cb.OnSpeechStarted != nil {
			c.cb.OnSpeechStarted()
		}
	case "input_audio_buffer.speech_stopped":
		if c.cb.OnSpeechStopped != nil {
			c.cb.OnSpeechStopped()
		}
	case "input_audio_buffer.committed", "input_audio_buffer.cleared",
		"session.created", "session.updated", "transcription_session.created",
		"transcription_session.updated", "conversation.item.created":
		// Acknowledgments; no action.
	case "error":
		if c.cb.OnError != nil {
			code, msg := "", ""
			if ev.Error != nil {
				code, msg = ev.Error.Code, ev.Error.Message
			}
			c.cb.OnError(code, msg)
		}
	default:
		c.log.Debug("transcribe: dropping unrecognized event", "type", ev.Type)
	}
}
