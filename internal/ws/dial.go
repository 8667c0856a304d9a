package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
}

// Dial opens a WebSocket to url.
func Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return conn, nil
}

// Backoff yields reconnect delays: the configured steps in order, then the
// last step forever.
type Backoff struct {
	steps   []time.Duration
	attempt int
}

func NewBackoff(steps []time.Duration) *Backoff {
	if len(steps) == 0 {
		steps = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second}
	}
	return &Backoff{steps: steps}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	i := b.attempt
	if i >= len(b.steps) {
		i = len(b.steps) - 1
	}
	b.attempt++
	return b.steps[i]
}

// Attempt returns how many delays have been handed out.
func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Retry calls connect until it succeeds or ctx ends, sleeping per b between
// attempts.
func Retry(ctx context.Context, b *Backoff, connect func(ctx context.Context) error) error {
	for {
		delay := b.Next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		err := connect(ctx)
		if err == nil {
			b.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
