package config

import "time"

const (
	// Stream read buffer size
	StreamReadBufferSize = 4096

	// Maximum error response body read on non-2xx
	MaxErrorBodySize = 64 * 1024

	// Conversation title derived from the first user message
	MaxTitleLen = 48

	// HTTP server timeouts (the streaming response itself has no
	// write deadline; the engine relies on context cancellation)
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 15 * time.Second
)
