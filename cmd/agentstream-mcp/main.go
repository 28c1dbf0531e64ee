package main

import (
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/agentstream/internal/common"
)

func main() {
	baseURL := os.Getenv("AGENTSTREAM_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8085"
	}

	// Warn level only: stdout carries the MCP protocol
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	client := newAPIClient(baseURL, 30*time.Second)

	mcpServer := newMCPServer(client, logger)

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}

func newMCPServer(client *apiClient, logger arbor.ILogger) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"agentstream",
		common.CurrentBuild().Version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createStartAgentTool(), handleStartAgent(client, logger))
	mcpServer.AddTool(createAgentStatusTool(), handleAgentStatus(client, logger))
	mcpServer.AddTool(createListAgentsTool(), handleListAgents(client, logger))
	mcpServer.AddTool(createControlAgentTool(), handleControlAgent(client, logger))

	return mcpServer
}
