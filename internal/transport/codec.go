package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ternarybob/menulens/internal/models"
	"github.com/ternarybob/menulens/internal/progress"
)

var (
	// ErrHeartbeat marks a keepalive reply frame; it is never an event
	ErrHeartbeat = errors.New("heartbeat frame")
	// ErrMalformed marks a payload that is not a valid progress event
	ErrMalformed = errors.New("malformed progress event")
)

const (
	pingFrame = "ping"
	pongFrame = "pong"
)

// Sink receives every decoded event from both channels
type Sink interface {
	ApplyEvent(ctx context.Context, ev *models.Event, source progress.Source) progress.Outcome
}

// HeaderSource supplies the Authorization header for each connection attempt
type HeaderSource interface {
	AuthorizationHeader(ctx context.Context) (http.Header, error)
}

// DecodeEvent parses one push frame or pull body into an Event
func DecodeEvent(data []byte) (*models.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == pongFrame {
		return nil, ErrHeartbeat
	}
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var ev models.Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &ev, nil
}
