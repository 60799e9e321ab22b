// Package ws streams one item's event log over a WebSocket connection:
// the event-log replay on connect, then everything the bus publishes
// for that item afterward, adapted from CodeForge's adapter/ws.Hub
// broadcast-to-everyone model down to one subscriber per item stream.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
)

// Streamer upgrades a request to a WebSocket and streams one item's
// events to it.
type Streamer struct {
	Layout layout.Layout
	Bus    *bus.Bus
}

// HandleItemStream replays the item's persisted event log, then
// forwards every subsequent bus event for that item, until the client
// disconnects or the request context ends.
func (s *Streamer) HandleItemStream(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is handled by transport/http middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "item_id", itemID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Detect client-initiated close without blocking the writer loop.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	log := eventlog.Open(s.Layout.ItemEventLogPath(itemID))
	history, err := log.Read()
	if err != nil {
		slog.Error("websocket: read item log", "item_id", itemID, "error", err)
		return
	}
	for _, ev := range history {
		if err := writeEvent(ctx, conn, ev); err != nil {
			return
		}
	}

	events, unsubscribe := s.Bus.SubscribeItem(itemID)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("websocket: marshal event", "error", err)
		return nil
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
