package ingest

import "errors"

var (
	// ErrUnsupportedRate is a soft failure: the frame is dropped, not
	// the session.
	ErrUnsupportedRate = errors.New("ingest: unsupported input sample rate")

	// ErrChunkSize is a programmer error: a byte slice reached the
	// transcription client's Append that was not exactly ChunkBytes.
	ErrChunkSize = errors.New("ingest: chunk is not exactly 960 bytes")

	// ErrDisconnected is returned by Append when the transcription
	// socket is not connected.
	ErrDisconnected = errors.New("ingest: transcription client disconnected")

	// ErrMissingCredentials is a fatal configuration error raised at
	// construction time.
	ErrMissingCredentials = errors.New("ingest: missing provider credentials")

	// ErrSessionClosed is returned by operations attempted after
	// session teardown.
	ErrSessionClosed = errors.New("ingest: session already closed")
)
