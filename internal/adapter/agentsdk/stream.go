package agentsdk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/Strob0t/deskgate/internal/domain/event"
)

const maxLine = 1 << 20

type item struct {
	ev  event.Event
	err error
}

// stream reads SSE frames on its own goroutine so Next can honor ctx.
type stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	items  chan item
	done   chan struct{}
	once   sync.Once
}

func newStream(body io.ReadCloser, cancel context.CancelFunc) *stream {
	s := &stream{
		body:   body,
		cancel: cancel,
		items:  make(chan item, 16),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *stream) read() {
	defer close(s.items)

	sc := bufio.NewScanner(s.body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	var data strings.Builder
	flush := func() bool {
		if data.Len() == 0 {
			return true
		}
		payload := data.String()
		data.Reset()
		ev, ok := decodeFrame(payload)
		if !ok {
			return true
		}
		select {
		case s.items <- item{ev: ev}:
			return true
		case <-s.done:
			return false
		}
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if !flush() {
		return
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case s.items <- item{err: err}:
	case <-s.done:
	}
}

// decodeFrame turns one SSE data payload into an event. The backend emits
// a bare {"error": ...} when the turn fails; that becomes an error event.
// Invalid frames are logged and skipped.
func decodeFrame(payload string) (event.Event, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == "[DONE]" {
		return event.Event{}, false
	}

	var envelope struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.Type == "" && envelope.Error != "" {
		return event.Event{Type: event.TypeError, Error: envelope.Error}, true
	}

	ev, err := event.Decode([]byte(payload))
	if err != nil {
		slog.Warn("skipping malformed stream event", "error", err)
		return event.Event{}, false
	}
	return ev, true
}

// Next returns the next event, io.EOF after the last one.
func (s *stream) Next(ctx context.Context) (event.Event, error) {
	select {
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	case it, ok := <-s.items:
		if !ok {
			return event.Event{}, io.EOF
		}
		if it.err != nil && !errors.Is(it.err, io.EOF) {
			return event.Event{}, it.err
		}
		if it.err != nil {
			return event.Event{}, io.EOF
		}
		return it.ev, nil
	}
}

// Close ends the request and stops the reader.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		err = s.body.Close()
	})
	return err
}
