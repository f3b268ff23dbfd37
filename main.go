package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veka-server/ClaraVerse-sub006/pkg/config"
	"github.com/veka-server/ClaraVerse-sub006/pkg/db"
	"github.com/veka-server/ClaraVerse-sub006/pkg/graphfile"
	"github.com/veka-server/ClaraVerse-sub006/pkg/logging"
	"github.com/veka-server/ClaraVerse-sub006/pkg/modelclient"
	"github.com/veka-server/ClaraVerse-sub006/services/flow"
	"github.com/veka-server/ClaraVerse-sub006/services/flow/nodes"
	"github.com/veka-server/ClaraVerse-sub006/services/workflow"
)

type cli struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
}

func (c *cli) setupConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(c.logger)
	return nil
}

func (c *cli) serve(cmd *cobra.Command, _ []string) error {
	ctx := logging.WithLogger(cmd.Context(), c.logger)

	var pool *pgxpool.Pool
	if c.cfg.DatabaseURL != "" {
		var err error
		pool, err = db.Connect(ctx, db.Config{
			URI:      c.cfg.DatabaseURL,
			MaxConns: int32(c.cfg.DBMaxConns),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		// Initialize database schema and seed data
		if err := workflow.InitDB(ctx, pool); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	} else {
		c.logger.Warn("No database configured, graphs are kept in memory")
	}

	// setup router
	mainRouter := mux.NewRouter()

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	workflowService, err := workflow.NewService(pool, workflow.Options{
		API:            c.cfg.API,
		RunTTL:         c.cfg.RunTTL,
		AllowedOrigins: c.cfg.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow service: %w", err)
	}

	workflowService.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(c.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:        c.cfg.Addr,
		Handler:     corsHandler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serverErrors := make(chan error, 1)

	go func() {
		c.logger.Info("Starting server", "addr", c.cfg.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		c.logger.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			c.logger.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, c.logger)

	g, err := graphfile.Load(args[0])
	if err != nil {
		return err
	}

	registry := flow.NewRegistry()
	nodes.Register(registry, nodes.Deps{})
	engine := flow.NewEngine(registry,
		flow.WithModels(modelclient.NewProvider()),
		flow.WithAPIConfig(c.cfg.API))

	opts := flow.RunOptions{}
	if verbose, _ := cmd.Flags().GetBool("emit"); verbose {
		opts.Emit = func(nodeID string, value any) {
			c.logger.Info("Node emitted", "nodeId", nodeID, "value", flow.Stringify(value))
		}
	}

	result, err := engine.Run(ctx, g, opts)
	if err != nil {
		return fmt.Errorf("failed to plan %s: %w", args[0], err)
	}
	c.logger.Info(result.String())

	var out any = result.Outputs
	if full, _ := cmd.Flags().GetBool("full"); full {
		out = result
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newRootCmd() (*cobra.Command, error) {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:               "flow",
		Short:             "Node graph execution engine",
		SilenceUsage:      true,
		PersistentPreRunE: c.setupConfig,
	}
	if err := config.BindFlags(root.PersistentFlags(), c.v); err != nil {
		return nil, err
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph HTTP API",
		Args:  cobra.NoArgs,
		RunE:  c.serve,
	}

	runCmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Execute a .json or .hcl graph once and print its outputs",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
	runCmd.Flags().Bool("full", false, "print the whole run result instead of the output table")
	runCmd.Flags().Bool("emit", false, "log partial output emitted by nodes")

	root.AddCommand(serveCmd, runCmd)
	return root, nil
}

func main() {
	cmd, err := newRootCmd()
	if err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
