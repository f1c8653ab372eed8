package dashboard

import (
	"encoding/json"
	"time"

	"github.com/avolkov/zencache/internal/syncer"
)

// Handler translates sync outcomes into dashboard broadcasts. It is safe
// to use with a nil Server, in which case every method is a no-op.
type Handler struct {
	server *Server
}

// NewHandler creates a handler publishing to the given server.
func NewHandler(server *Server) *Handler {
	return &Handler{server: server}
}

// SyncComplete broadcasts a successful sync result.
func (h *Handler) SyncComplete(res *syncer.SyncResult) {
	if h == nil || h.server == nil || res == nil {
		return
	}

	data, err := json.Marshal(SyncCompleteData{
		Updated:    res.Updated,
		Deleted:    res.Deleted,
		Skipped:    res.Skipped,
		Watermark:  res.NewWatermark,
		DurationMS: res.DurationMS,
	})
	if err != nil {
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// SyncFailed broadcasts a failed sync attempt.
func (h *Handler) SyncFailed(syncErr error) {
	if h == nil || h.server == nil || syncErr == nil {
		return
	}

	data, err := json.Marshal(SyncFailedData{
		Error:     syncErr.Error(),
		Retryable: syncer.IsRetryable(syncErr),
	})
	if err != nil {
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncFailed,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Stats broadcasts current per-table row counts.
func (h *Handler) Stats(tables map[string]int, watermark int64) {
	if h == nil || h.server == nil {
		return
	}

	data, err := json.Marshal(StatsData{
		Tables:    tables,
		Watermark: watermark,
	})
	if err != nil {
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      data,
	})
}
