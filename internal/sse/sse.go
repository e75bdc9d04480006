// Package sse writes and reads named Server-Sent Events carrying JSON data.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event is one decoded frame. Err is set when the data was not valid JSON.
type Event struct {
	Name string
	Data json.RawMessage
	Err  error
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if e.Err != nil {
		return e.Err
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("sse: decode %s: %w", e.Name, err)
	}
	return nil
}

// Writer writes events to an http.ResponseWriter. Call Init once before the
// first event.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter wraps w. Without http.Flusher support events may be buffered.
func NewWriter(w http.ResponseWriter) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Init sets the stream headers and flushes them.
func (sw *Writer) Init() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.flush()
}

// WriteEvent marshals v and writes it as
//
//	event: name
//	data: {json}
//
// followed by a blank line, then flushes.
func (sw *Writer) WriteEvent(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal %s: %w", name, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("sse: write %s: %w", name, err)
	}
	sw.flush()
	return nil
}

func (sw *Writer) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// ReadEvents decodes frames from body onto the returned channel. The channel
// closes when body is exhausted or ctx is canceled; body is closed when
// reading stops. Multiple data lines in one frame are joined with newlines.
// Frames without a name are reported as "message".
func ReadEvents(ctx context.Context, body io.ReadCloser) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		var name string
		var data strings.Builder

		flush := func() bool {
			if data.Len() == 0 {
				name = ""
				return true
			}
			ok := send(ctx, ch, name, data.String())
			name = ""
			data.Reset()
			return ok
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
				// comment
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		flush()
	}()
	return ch
}

func send(ctx context.Context, ch chan<- Event, name, raw string) bool {
	if name == "" {
		name = "message"
	}
	ev := Event{Name: name, Data: json.RawMessage(raw)}
	if !json.Valid(ev.Data) {
		ev.Err = fmt.Errorf("sse: %s: data is not JSON", name)
	}
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
