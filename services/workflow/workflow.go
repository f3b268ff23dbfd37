package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/veka-server/ClaraVerse-sub006/pkg/logging"
	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// HandleNodeTypes lists the node types the engine can execute.
func (s *Service) HandleNodeTypes(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(NodeTypesResponse{Types: s.engine.Registry().Types()})
}

// HandleGetWorkflow loads a graph from the repository and returns it as JSON.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	id, ok := graphID(w, r)
	if !ok {
		return
	}
	logger.Debug("Getting graph", "id", id)

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		logger.Error("Failed to get graph", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(wf)
}

// HandleSaveWorkflow validates that the posted graph can be planned and
// stores it under the path id.
func (s *Service) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	id, ok := graphID(w, r)
	if !ok {
		return
	}

	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf := &Workflow{ID: id, Name: req.Name, Nodes: req.Nodes, Edges: req.Edges}
	if _, err := flow.NewPlan(wf.Graph()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	saved, err := s.repo.Save(r.Context(), wf)
	if err != nil {
		logger.Error("Failed to save graph", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	logger.Info("Saved graph", "id", id, "nodes", len(saved.Nodes), "edges", len(saved.Edges))

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(saved)
}

// HandleExecuteWorkflow runs a stored graph and returns step-by-step results.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	id, ok := graphID(w, r)
	if !ok {
		return
	}
	logger.Debug("Executing graph", "id", id)

	var req ExecuteRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		logger.Error("Failed to get graph for execution", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	s.execute(r.Context(), w, wf.Graph(), req)
}

// HandleExecuteInline runs the graph carried in the request body.
func (s *Service) HandleExecuteInline(w http.ResponseWriter, r *http.Request) {
	var req InlineExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Nodes) == 0 {
		writeError(w, http.StatusBadRequest, "nodes is required")
		return
	}

	s.execute(r.Context(), w, &flow.Graph{Nodes: req.Nodes, Edges: req.Edges}, req.ExecuteRequest)
}

// HandleGetRun returns a recently finished run.
func (s *Service) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	if _, err := uuid.Parse(runID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, ok := s.runs.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(run)
}

func (s *Service) execute(ctx context.Context, w http.ResponseWriter, g *flow.Graph, req ExecuteRequest) {
	result, err := s.engine.Run(ctx, g, s.runOptions(req))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.runs.Save(result)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

func (s *Service) runOptions(req ExecuteRequest) flow.RunOptions {
	opts := flow.RunOptions{Seed: req.Seed}
	if len(req.API) > 0 {
		api := s.api.Merge(req.API)
		opts.API = &api
	}
	return opts
}

// graphID reads and validates the {id} path variable, writing a 400 when it
// is not a UUID.
func graphID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return "", false
	}
	return id, true
}

// decodeOptional decodes a JSON body, treating an empty body as the zero value.
func decodeOptional(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
