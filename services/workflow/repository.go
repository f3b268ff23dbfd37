package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohae/deepcopy"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
	"github.com/veka-server/ClaraVerse-sub006/services/flow/nodes"
)

// Repository handles workflow persistence in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the graphs table if it does not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS graphs (
			id         UUID PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			nodes      JSONB NOT NULL DEFAULT '[]',
			edges      JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Seed inserts the sample graph if it does not already exist.
func (r *Repository) Seed(ctx context.Context) error {
	nodesJSON, err := json.Marshal(sampleNodes)
	if err != nil {
		return fmt.Errorf("marshal seed nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(sampleEdges)
	if err != nil {
		return fmt.Errorf("marshal seed edges: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO graphs (id, name, nodes, edges)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, sampleWorkflowID, sampleWorkflowName, nodesJSON, edgesJSON)
	if err != nil {
		return fmt.Errorf("seed graph: %w", err)
	}
	return nil
}

// Get retrieves a graph by ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	var nodesJSON, edgesJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, name, nodes, edges, created_at, updated_at
		FROM graphs WHERE id = $1
	`, id).Scan(&wf.ID, &wf.Name, &nodesJSON, &edgesJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get graph: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &wf, nil
}

// Save inserts or replaces the graph and returns it with its stored timestamps.
func (r *Repository) Save(ctx context.Context, wf *Workflow) (*Workflow, error) {
	nodesJSON, err := json.Marshal(nonNilNodes(wf.Nodes))
	if err != nil {
		return nil, fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(nonNilEdges(wf.Edges))
	if err != nil {
		return nil, fmt.Errorf("marshal edges: %w", err)
	}

	saved := *wf
	err = r.db.QueryRow(ctx, `
		INSERT INTO graphs (id, name, nodes, edges)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, nodes = EXCLUDED.nodes, edges = EXCLUDED.edges, updated_at = NOW()
		RETURNING created_at, updated_at
	`, wf.ID, wf.Name, nodesJSON, edgesJSON).Scan(&saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save graph: %w", err)
	}
	return &saved, nil
}

// InitDB creates the schema and seeds initial data. Called from main on startup.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}

// memoryRepo keeps graphs in process memory when no database is configured.
type memoryRepo struct {
	mu     sync.RWMutex
	graphs map[string]Workflow
}

func newMemoryRepo() *memoryRepo {
	now := time.Now().UTC()
	return &memoryRepo{graphs: map[string]Workflow{
		sampleWorkflowID: {
			ID: sampleWorkflowID, Name: sampleWorkflowName,
			Nodes: sampleNodes, Edges: sampleEdges,
			CreatedAt: now, UpdatedAt: now,
		},
	}}
}

func (m *memoryRepo) Get(_ context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.graphs[id]
	if !ok {
		return nil, nil
	}
	return cloneWorkflow(wf), nil
}

func (m *memoryRepo) Save(_ context.Context, wf *Workflow) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *cloneWorkflow(*wf)
	saved.UpdatedAt = time.Now().UTC()
	if prev, ok := m.graphs[wf.ID]; ok {
		saved.CreatedAt = prev.CreatedAt
	} else {
		saved.CreatedAt = saved.UpdatedAt
	}
	m.graphs[wf.ID] = saved
	return cloneWorkflow(saved), nil
}

// cloneWorkflow deep-copies wf so runs, which write into node configs,
// never touch the stored graph.
func cloneWorkflow(wf Workflow) *Workflow {
	cp := deepcopy.Copy(wf).(Workflow)
	return &cp
}

func nonNilNodes(n []flow.Node) []flow.Node {
	if n == nil {
		return []flow.Node{}
	}
	return n
}

func nonNilEdges(e []flow.Edge) []flow.Edge {
	if e == nil {
		return []flow.Edge{}
	}
	return e
}

const (
	sampleWorkflowID   = "550e8400-e29b-41d4-a716-446655440000"
	sampleWorkflowName = "Greeting Router"
)

var sampleNodes = []flow.Node{
	{
		ID: "input", Type: nodes.TypeTextInput, Label: "Message",
		Position: &flow.Position{X: -160, Y: 300},
		Config:   map[string]any{"text": "hello world"},
	},
	{
		ID: "check", Type: nodes.TypeConditional, Label: "Is greeting?",
		Position: &flow.Position{X: 152, Y: 304},
		Config:   map[string]any{"condition": "contains('hello')"},
	},
	{
		ID: "greet", Type: nodes.TypeTextCombiner, Label: "Reply",
		Position: &flow.Position{X: 460, Y: 88},
		Config:   map[string]any{"additionalText": " - nice to meet you"},
	},
	{
		ID: "other", Type: nodes.TypeStaticText, Label: "Fallback",
		Position: &flow.Position{X: 460, Y: 500},
		Config:   map[string]any{"text": "not a greeting"},
	},
	{
		ID: "output", Type: nodes.TypeTextOutput, Label: "Result",
		Position: &flow.Position{X: 794, Y: 304},
	},
}

var sampleEdges = []flow.Edge{
	{ID: "e1", Source: "input", Target: "check"},
	{ID: "e2", Source: "check", SourceHandle: flow.PortTrue, Target: "greet", TargetHandle: "text-in"},
	{ID: "e3", Source: "check", SourceHandle: flow.PortFalse, Target: "other"},
	{ID: "e4", Source: "greet", Target: "output", TargetHandle: "text-in"},
	{ID: "e5", Source: "other", Target: "output", TargetHandle: "text-in"},
}
