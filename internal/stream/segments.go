package stream

import (
	"bytes"
	"net/http"
)

// GetSegment serves the WAV bytes of a registered segment.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	seg, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, seg.ID+".wav", seg.CreatedAt, bytes.NewReader(seg.WAV))
}

// DeleteSegment revokes a segment handle. Unknown IDs yield 404.
func (h *Handler) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if !h.store.Revoke(r.PathValue("id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
