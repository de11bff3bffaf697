// Package notification follows the server's notification stream and
// republishes each notification on an event bus.
package notification

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/shelf/events"
	"github.com/GoCodeAlone/shelf/rest"
)

// StreamPath is the server-sent events endpoint, relative to the API root.
const StreamPath = "notification/stream"

// Event names triggered by Forward.
const (
	EventNotification = "g:notification"
	// EventTypePrefix is followed by the notification type, as in
	// "g:notification:job_status".
	EventTypePrefix = EventNotification + ":"
)

// Notification is one message from the stream.
type Notification struct {
	ID   string         `json:"_id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	Time time.Time      `json:"time"`
}

// Option configures a Stream.
type Option func(*Stream)

// WithTimeout asks the server to end the stream after d; Forward then
// reconnects.
func WithTimeout(d time.Duration) Option {
	return func(s *Stream) { s.timeout = d }
}

// WithRetry sets the delay before reconnecting after the stream ends.
func WithRetry(d time.Duration) Option {
	return func(s *Stream) { s.retry = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// Stream reads notifications for the current session.
type Stream struct {
	client  *rest.Client
	timeout time.Duration
	retry   time.Duration
	logger  *slog.Logger
	since   time.Time
}

// NewStream creates a Stream on client.
func NewStream(client *rest.Client, opts ...Option) *Stream {
	s := &Stream{
		client: client,
		retry:  5 * time.Second,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe opens the stream once. The channel closes when the server ends
// the stream or ctx is cancelled.
func (s *Stream) Subscribe(ctx context.Context) (<-chan Notification, error) {
	q := url.Values{}
	if s.timeout > 0 {
		q.Set("timeout", strconv.Itoa(int(s.timeout.Seconds())))
	}
	if !s.since.IsZero() {
		q.Set("since", strconv.FormatInt(s.since.Unix(), 10))
	}
	body, err := s.client.Stream(ctx, StreamPath, q, "text/event-stream")
	if err != nil {
		return nil, fmt.Errorf("connecting to notification stream: %w", err)
	}

	ch := make(chan Notification, 64)
	go func() {
		defer close(ch)
		defer body.Close()
		err := Parse(body, func(n Notification) bool {
			select {
			case ch <- n:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("Notification stream ended with error", "error", err)
		}
	}()
	return ch, nil
}

// Forward subscribes repeatedly until ctx is cancelled and triggers
// g:notification and g:notification:<type> on bus for every notification,
// with the notification as the only argument.
func (s *Stream) Forward(ctx context.Context, bus *events.Bus) error {
	for {
		ch, err := s.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("Notification stream unavailable", "error", err)
		} else {
			for n := range ch {
				if n.Time.After(s.since) {
					s.since = n.Time
				}
				bus.Trigger(EventNotification, n)
				if n.Type != "" {
					bus.Trigger(EventTypePrefix+n.Type, n)
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry):
		}
	}
}

// Parse reads server-sent events from r and calls emit for each event
// whose data decodes as a notification, until emit returns false or r ends.
func Parse(r io.Reader, emit func(Notification) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var event string
	var data []string
	flush := func() bool {
		defer func() {
			event = ""
			data = data[:0]
		}()
		if len(data) == 0 {
			return true
		}
		n, err := decode(strings.Join(data, "\n"))
		if err != nil {
			return true
		}
		if n.Type == "" {
			n.Type = event
		}
		return emit(n)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// Comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

// wireNotification is the server encoding. Time is either seconds since
// the epoch or an RFC 3339 string.
type wireNotification struct {
	ID   string          `json:"_id"`
	Type string          `json:"type"`
	Data map[string]any  `json:"data"`
	Time json.RawMessage `json:"time"`
}

var errNoData = errors.New("empty notification")

func decode(s string) (Notification, error) {
	if strings.TrimSpace(s) == "" {
		return Notification{}, errNoData
	}
	var w wireNotification
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Notification{}, fmt.Errorf("decoding notification: %w", err)
	}
	n := Notification{ID: w.ID, Type: w.Type, Data: w.Data}
	if len(w.Time) > 0 {
		var secs float64
		var stamp string
		switch {
		case json.Unmarshal(w.Time, &secs) == nil:
			n.Time = time.Unix(0, int64(secs*float64(time.Second))).UTC()
		case json.Unmarshal(w.Time, &stamp) == nil:
			if t, err := time.Parse(time.RFC3339, stamp); err == nil {
				n.Time = t.UTC()
			}
		}
	}
	return n, nil
}
