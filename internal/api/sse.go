package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/pipeline"
)

// sseWriter frames events as text/event-stream. Headers are sent with the
// first frame, so a handler can still answer with a plain JSON error when
// nothing has been streamed yet.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	err     error
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	// Streams outlive the server's write timeout.
	_ = s.rc.SetWriteDeadline(time.Time{})
	s.w.WriteHeader(http.StatusOK)
}

// send writes one frame. After the first write error every later call is a
// no-op; the request context ends the run when the client goes away.
func (s *sseWriter) send(event string, data any) {
	if s.err != nil {
		return
	}
	s.start()
	payload, err := json.Marshal(data)
	if err != nil {
		s.err = err
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.err = err
		return
	}
	s.err = s.rc.Flush()
}

// eventData is the wire payload of a generation event.
func eventData(e generate.Event) map[string]any {
	switch e.Type {
	case generate.EventChunk:
		return map[string]any{"key": e.Key, "fragment": e.Fragment, "content": e.Accumulated, "progress": e.Progress}
	case generate.EventComplete:
		return map[string]any{"key": e.Key, "content": e.Content, "refusal": e.Refusal, "progress": e.Progress}
	case generate.EventError:
		return map[string]any{"key": e.Key, "error": e.Message, "document": e.Document}
	case generate.EventDone:
		return map[string]any{"progress": e.Progress, "document": e.Document}
	case pipeline.EventStatus:
		return map[string]any{"phase": e.Message}
	}
	return map[string]any{"key": e.Key, "title": e.Title, "progress": e.Progress, "completed": e.Completed, "total": e.Total}
}

// streamObserver forwards generation events as SSE frames and remembers
// whether an error frame went out.
func streamObserver(s *sseWriter, sawError *bool) generate.Observer {
	return func(e generate.Event) {
		if e.Type == generate.EventError {
			*sawError = true
		}
		s.send(string(e.Type), eventData(e))
	}
}

func jobEventData(e pipeline.Event) map[string]any {
	data := eventData(e.Event)
	data["job_id"] = e.JobID
	data["status"] = e.Status
	return data
}
