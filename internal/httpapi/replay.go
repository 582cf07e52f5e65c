// Package httpapi exposes the one admin endpoint this process names: a
// hex payload replay hook, for manually resubmitting a message that was
// quarantined (or lost) and has since been fixed at the source.
package httpapi

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tradecapture/ingress/internal/model"
)

// Enqueuer is the narrow slice of internal/buffer.Buffer the replay
// handler depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg model.PendingMessage) error
}

// Classifier is the narrow slice of internal/stream.Classifier the replay
// handler depends on, to turn the replayed hex payload into a PendingMessage
// the same way a freshly received stream message would be.
type Classifier interface {
	Classify(raw []byte, offset int64, ack model.AckHandle) model.PendingMessage
}

// ReplayHandler serves POST /admin/replay/hex: the request body is a
// hex-encoded raw message payload, injected into the buffer as a
// PendingMessage with model.ReplayOffsetSentinel and a nil ack-handle, so
// StoreOffset is skipped rather than committing a source-stream offset
// that doesn't exist.
type ReplayHandler struct {
	buffer     Enqueuer
	classifier Classifier
	log        zerolog.Logger
}

// NewReplayHandler constructs a ReplayHandler.
func NewReplayHandler(buffer Enqueuer, classifier Classifier, log zerolog.Logger) *ReplayHandler {
	return &ReplayHandler{buffer: buffer, classifier: classifier, log: log.With().Str("component", "replay_handler").Logger()}
}

func (h *ReplayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(model.MaxErrorDetailLen)*4))
	if err != nil {
		http.Error(w, "Invalid Hex", http.StatusBadRequest)
		return
	}

	raw, err := hex.DecodeString(string(body))
	if err != nil {
		http.Error(w, "Invalid Hex", http.StatusBadRequest)
		return
	}

	msg := h.classifier.Classify(raw, model.ReplayOffsetSentinel, nil)
	if err := h.buffer.Enqueue(r.Context(), msg); err != nil {
		h.log.Error().Err(err).Msg("replay enqueue failed")
		http.Error(w, "Replay Failed", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Replay injected into buffer."))
}
