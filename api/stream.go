package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/poiesic/docrag/rag"
)

// eventWriter frames rag events as server-sent events.
type eventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w)}
}

func (e *eventWriter) start() {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	e.started = true
}

// Emit writes one "data: <json>\n\n" frame and flushes it.
func (e *eventWriter) Emit(ev rag.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if !e.started {
		e.start()
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return e.rc.Flush()
}

// StreamMessage answers a chat message as a server-sent event stream. Errors
// found before the first event are returned as regular JSON errors.
func (h *Handler) StreamMessage(w http.ResponseWriter, r *http.Request) {
	chat, err := h.ownedChat(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	message, err := decodeMessage(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ew := newEventWriter(w)
	_, err = h.svc.Chats().StreamMessage(r.Context(), chat.Id, message, ew.Emit)
	if err == nil {
		return
	}
	if !ew.started {
		h.writeError(w, r, err)
		return
	}
	h.logger.Error("stream ended with error", "chatId", chat.Id, "err", err)
}
