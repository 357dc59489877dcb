// Package mcp exposes the expense workflow as MCP tools over stdio.
//
// Like the gRPC server this is a trusted local surface: the stdio peer
// names the actor and no token is checked.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/logging"
	"github.com/ppiankov/spendgate/internal/workflow"
)

// Config holds MCP server configuration.
type Config struct {
	// Version is reported to MCP clients.
	Version string
}

// Server wraps the MCP SDK server around a workflow.Service.
type Server struct {
	mcpServer *mcpsdk.Server
	svc       *workflow.Service
	log       *zap.Logger
}

// New creates an MCP server with every spendgate tool registered.
func New(svc *workflow.Service, cfg Config, logger *zap.Logger) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		svc: svc,
		log: logging.OrNop(logger),
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "spendgate",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all spendgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "spendgate_submit",
		Description: "Submit an expense for approval. Returns the stored expense with its approval plan.",
	}, s.handleSubmit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "spendgate_decide",
		Description: "Approve or reject an expense as the given approver. Refused decisions return an error with the reason.",
	}, s.handleDecide)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "spendgate_get",
		Description: "Fetch an expense with its status, plan and approval history.",
	}, s.handleGet)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "spendgate_pending",
		Description: "List the expenses an approver can decide right now.",
	}, s.handlePending)
}
