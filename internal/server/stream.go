package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dusk-indust/querydesk/internal/orchestrator"
	"github.com/dusk-indust/querydesk/internal/sse"
)

// Event names on the /query/stream response.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

// handleQueryStream answers a query like handleQuery but streams progress
// events while it runs and finishes with one result or error event. Request
// validation failures are plain JSON errors since no stream has started.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	q, err := decodeQuery(w, r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	pr := orchestrator.NewProgressReporter()
	type routed struct {
		resp *orchestrator.Response
		err  error
	}
	done := make(chan routed, 1)
	go func() {
		resp, err := s.router.Route(orchestrator.ContextWithProgress(ctx, pr), q)
		pr.Close()
		done <- routed{resp, err}
	}()

	sw := sse.NewWriter(w)
	sw.Init()
	logger := loggerFrom(r.Context(), s.logger)
	broken := false
	write := func(name string, v any) {
		if broken {
			return
		}
		if err := sw.WriteEvent(name, v); err != nil {
			broken = true
			logger.Debug("stream closed by client", zap.Error(err))
		}
	}

	for ev := range pr.Subscribe() {
		write(EventProgress, ev)
	}
	res := <-done
	if res.err != nil {
		_, body := s.failure(r, res.err, res.resp)
		write(EventError, body)
		return
	}
	if _, err := json.Marshal(res.resp); err != nil {
		logger.Error("query result not encodable", zap.Error(err))
		write(EventError, internalBody)
		return
	}
	write(EventResult, res.resp)
}
