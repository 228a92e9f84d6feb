package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatrelay/internal/model"
)

// Envelope is one raw platform payload on its way to the pipeline. The stream
// adapters (Kafka, TCP, file tail) read it as a JSON object
// {"platform": "...", "payload": {...}}.
type Envelope struct {
	Platform   string    `json:"platform"`
	Payload    any       `json:"payload"`
	Source     string    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

var ErrNoPayload = errors.New("envelope has no payload")

// DecodeEnvelope parses one envelope. Numbers are kept as json.Number so
// microsecond timestamps survive intact.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if _, ok := model.ParsePlatform(env.Platform); !ok {
		return Envelope{}, fmt.Errorf("unsupported platform %q", env.Platform)
	}
	if env.Payload == nil {
		return Envelope{}, ErrNoPayload
	}
	return env, nil
}

// decodePayloads reads a single JSON object or an array of them.
func decodePayloads(data []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNoPayload
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if trimmed[0] == '[' {
		var list []any
		if err := dec.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return []any{obj}, nil
}

func isBlankLine(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}
