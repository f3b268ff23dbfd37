package workflow

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veka-server/ClaraVerse-sub006/pkg/modelclient"
	"github.com/veka-server/ClaraVerse-sub006/services/flow"
	"github.com/veka-server/ClaraVerse-sub006/services/flow/nodes"
)

// WorkflowRepo abstracts graph persistence for testability.
type WorkflowRepo interface {
	Get(ctx context.Context, id string) (*Workflow, error)
	Save(ctx context.Context, wf *Workflow) (*Workflow, error)
}

// Options configures a Service.
type Options struct {
	// API is the default model backend configuration for every run.
	API modelclient.Config
	// RunTTL is how long finished runs stay queryable.
	RunTTL time.Duration
	// AllowedOrigins limits websocket upgrades; empty allows any origin.
	AllowedOrigins []string
	// HTTPClient is used by nodes calling plain HTTP backends.
	HTTPClient *http.Client
	// Models overrides the model client provider.
	Models modelclient.Provider
}

// Service wires together the repository, run store and execution engine.
type Service struct {
	repo     WorkflowRepo
	engine   *flow.Engine
	runs     *RunStore
	api      modelclient.Config
	upgrader websocket.Upgrader
}

// NewService creates a Service. Graphs are stored in PostgreSQL when pool is
// non-nil and in process memory otherwise.
func NewService(pool *pgxpool.Pool, opts Options) (*Service, error) {
	var repo WorkflowRepo
	if pool != nil {
		repo = NewRepository(pool)
	} else {
		repo = newMemoryRepo()
	}

	models := opts.Models
	if models == nil {
		models = modelclient.NewProvider()
	}

	registry := flow.NewRegistry()
	nodes.Register(registry, nodes.Deps{HTTPClient: opts.HTTPClient})
	engine := flow.NewEngine(registry, flow.WithModels(models), flow.WithAPIConfig(opts.API))

	return newService(repo, engine, opts), nil
}

func newService(repo WorkflowRepo, engine *flow.Engine, opts Options) *Service {
	ttl := opts.RunTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		repo:   repo,
		engine: engine,
		runs:   NewRunStore(ttl),
		api:    opts.API,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		return slices.Contains(allowed, origin) || slices.Contains(allowed, "*")
	}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the flow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	// The websocket route must not go through jsonMiddleware.
	parentRouter.HandleFunc("/graphs/{id}/stream", s.HandleStreamGraph).Methods("GET")

	router := parentRouter.NewRoute().Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/node-types", s.HandleNodeTypes).Methods("GET")
	router.HandleFunc("/execute", s.HandleExecuteInline).Methods("POST")
	router.HandleFunc("/runs/{runId}", s.HandleGetRun).Methods("GET")
	router.HandleFunc("/graphs/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/graphs/{id}", s.HandleSaveWorkflow).Methods("PUT")
	router.HandleFunc("/graphs/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")
}
