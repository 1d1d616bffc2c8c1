package service

import (
	"bytes"
	"encoding/json"
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// StreamFrame is one parsed server-sent event. Frames are ephemeral: only
// the accumulated effect of their deltas is ever persisted.
type StreamFrame struct {
	Delta string
	Done  bool
	Usage *TokenUsage
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *TokenUsage `json:"usage"`
}

// EventParser incrementally parses the newline-delimited `data: <json>`
// stream of an OpenAI-compatible completion endpoint. It owns a residual
// byte buffer so that a logical frame split across several network reads
// is reassembled exactly as if it had arrived in one piece.
type EventParser struct {
	buf []byte
}

// Feed appends newly received bytes and returns every frame that became
// complete. A line whose JSON payload does not parse is pushed back to the
// front of the buffer and scanning stops until more bytes arrive.
func (p *EventParser) Feed(data []byte) []StreamFrame {
	p.buf = append(p.buf, data...)

	var frames []StreamFrame
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			return frames
		}

		line := bytes.TrimSuffix(p.buf[:idx], []byte("\r"))
		rest := p.buf[idx+1:]

		// Blank lines and `:` comments are keepalive noise.
		if len(line) == 0 || line[0] == ':' {
			p.buf = rest
			continue
		}
		if !bytes.HasPrefix(line, dataPrefix) {
			p.buf = rest
			continue
		}

		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(payload, doneMarker) {
			p.buf = rest
			frames = append(frames, StreamFrame{Done: true})
			return frames
		}

		var chunk streamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			// Incomplete JSON: leave the line (newline included) in the
			// buffer and resume once the rest of the frame arrives.
			return frames
		}
		p.buf = rest

		frame := StreamFrame{Usage: chunk.Usage}
		if len(chunk.Choices) > 0 {
			frame.Delta = chunk.Choices[0].Delta.Content
		}
		if frame.Delta != "" || frame.Usage != nil {
			frames = append(frames, frame)
		}
	}
}
