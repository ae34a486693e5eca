package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/invtrack/syncq/internal/events"
	"github.com/invtrack/syncq/internal/mutation"
)

// MutationData describes one record in a mutation message
type MutationData struct {
	Event      events.Type `json:"event"`
	Key        string      `json:"key"`
	SequenceID int64       `json:"sequence_id"`
	Operation  string      `json:"operation"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id,omitempty"`
	Status     string      `json:"status"`
	Attempt    int         `json:"attempt"`
	Error      string      `json:"error,omitempty"`
	Cascaded   int         `json:"cascaded,omitempty"`
	Fields     []string    `json:"fields,omitempty"`
}

// SyncData describes a drive cycle boundary
type SyncData struct {
	Event     events.Type `json:"event"`
	Remaining int         `json:"remaining,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// StatsData contains queue counts
type StatsData struct {
	ByStatus  map[string]int `json:"by_status"`
	Total     int            `json:"total"`
	Remaining int            `json:"remaining"`
}

func newStats(counts map[mutation.Status]int) StatsData {
	stats := StatsData{ByStatus: make(map[string]int, len(counts))}
	for status, n := range counts {
		stats.ByStatus[string(status)] = n
		stats.Total += n
		if !status.IsTerminal() {
			stats.Remaining += n
		}
	}
	return stats
}

// Handler turns engine events into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// Attach subscribes the handler to bus. The returned function detaches it.
func (h *Handler) Attach(bus *events.Bus) (cancel func()) {
	return bus.Subscribe(h.OnEvent)
}

// OnEvent broadcasts one engine event. After a cycle completes the current
// queue counts are broadcast as well.
func (h *Handler) OnEvent(ev events.Event) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch ev.Type {
	case events.SyncStarted, events.SyncComplete, events.SyncError:
		h.send(MessageTypeSync, ts, SyncData{Event: ev.Type, Remaining: ev.Remaining, Error: ev.Message})
		if ev.Type == events.SyncComplete {
			h.broadcastStats()
		}
	default:
		if ev.Record == nil {
			return
		}
		rec := ev.Record
		h.send(MessageTypeMutation, ts, MutationData{
			Event:      ev.Type,
			Key:        rec.IdempotencyKey,
			SequenceID: rec.SequenceID,
			Operation:  string(rec.Operation),
			EntityType: string(rec.EntityType),
			EntityID:   rec.EntityID,
			Status:     string(rec.Status),
			Attempt:    rec.Attempt,
			Error:      ev.Message,
			Cascaded:   ev.Cascaded,
			Fields:     ev.Fields,
		})
	}
}

func (h *Handler) send(typ MessageType, ts time.Time, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: ts, Data: dataJSON})
}

// broadcastStats sends current queue counts to all clients
func (h *Handler) broadcastStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if msg, ok := h.server.statsMessage(ctx); ok {
		h.server.Broadcast(msg)
	}
}
