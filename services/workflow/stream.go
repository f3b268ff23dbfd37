package workflow

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veka-server/ClaraVerse-sub006/pkg/logging"
	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// streamBuffer bounds the messages queued for a slow websocket client.
// Emit and step messages beyond it are dropped; the final result never is.
const streamBuffer = 256

const closeGracePeriod = time.Second

// HandleStreamGraph upgrades to a websocket, runs the stored graph and
// streams emit, step and result messages as they happen. Closing the
// socket cancels the run.
func (s *Service) HandleStreamGraph(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")

	id, ok := graphID(w, r)
	if !ok {
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		logger.Error("Failed to get graph for streaming", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	plan, err := flow.NewPlan(wf.Graph())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Del("Content-Type")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client only ever sends a close frame; a read error means it left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	out := make(chan StreamMessage, streamBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range out {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("Stopping stream writer", "id", id, "error", err)
				cancel()
				for range out {
				}
				return
			}
		}
	}()

	send := func(msg StreamMessage) {
		select {
		case out <- msg:
		default:
			logger.Warn("Dropping stream message for slow client", "id", id, "type", msg.Type, "nodeId", msg.NodeID)
		}
	}

	opts := s.runOptions(ExecuteRequest{})
	opts.Emit = func(nodeID string, value any) {
		send(StreamMessage{Type: MessageEmit, NodeID: nodeID, Value: value})
	}
	opts.OnStep = func(step flow.Step) {
		send(StreamMessage{Type: MessageStep, NodeID: step.NodeID, Step: &step})
	}

	logger.Info("Streaming graph run", "id", id, "nodes", len(plan.Order))
	result := s.engine.Execute(ctx, plan, opts)
	s.runs.Save(result)

	out <- StreamMessage{Type: MessageResult, Result: result}
	close(out)
	<-done

	deadline := time.Now().Add(closeGracePeriod)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
