// Package mcp provides an MCP (Model Context Protocol) server exposing
// learnability and novelty scoring and the stored results as tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/observer/internal/config"
	"github.com/nvandessel/observer/internal/logging"
	"github.com/nvandessel/observer/internal/ratelimit"
	"github.com/nvandessel/observer/internal/store"
)

// Server wraps the MCP SDK server and the result store behind it.
type Server struct {
	server *sdk.Server
	store  store.ResultStore
	cfg    *config.ObserverConfig
	logger *slog.Logger
	events *logging.EventLogger
	audit  *AuditLogger
	guard  *ratelimit.Guard

	artifactDirs []string
}

// Config holds server configuration.
type Config struct {
	Name     string // Server name (e.g., "observer")
	Version  string // Server version
	DataDir  string // Directory holding observer.db and the logs
	Observer *config.ObserverConfig
	Logger   *slog.Logger

	// ArtifactDirs lists the directories tools may read artifacts from.
	// Empty means the project root, the parent of DataDir.
	ArtifactDirs []string
}

// NewServer opens the result store in cfg.DataDir and registers the tools.
func NewServer(cfg *Config) (*Server, error) {
	obs := cfg.Observer
	if obs == nil {
		obs = config.Default()
	}
	if err := obs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	resultStore, err := store.NewSQLiteStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server: mcpServer,
		store:  resultStore,
		cfg:    obs,
		logger: logger,
		events: logging.NewEventLogger(cfg.DataDir, obs.Logging.Level),
		audit:  NewAuditLogger(cfg.DataDir),
		guard:  ratelimit.NewGuard(ratelimit.DefaultLimits()),

		artifactDirs: cfg.ArtifactDirs,
	}
	if len(s.artifactDirs) == 0 {
		s.artifactDirs = []string{filepath.Dir(filepath.Clean(cfg.DataDir))}
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled,
// then closes the server.
func (s *Server) Run(ctx context.Context) error {
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases the store and the log files.
func (s *Server) Close() error {
	s.events.Close()
	s.audit.Close()
	return s.store.Close()
}
