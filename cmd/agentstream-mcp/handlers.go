package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	result := textResult(text)
	result.IsError = true
	return result
}

// envelopeResult renders a server envelope as tool output
func envelopeResult(env *envelope, status int) *mcp.CallToolResult {
	if env.Error || status >= http.StatusBadRequest {
		return errorResult(formatFailure(env, status))
	}
	return textResult(formatData(env))
}

// handleStartAgent implements the start_agent tool
func handleStartAgent(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := request.RequireString("task")
		if err != nil || task == "" {
			return errorResult("Error: task parameter is required"), nil
		}

		body := map[string]interface{}{
			"task":       task,
			"url":        request.GetString("url", ""),
			"session_id": request.GetString("session_id", ""),
			"max_steps":  request.GetInt("max_steps", 0),
		}
		// Omitted headless keeps the server default
		if _, ok := request.GetArguments()["headless"]; ok {
			body["headless"] = request.GetBool("headless", true)
		}

		env, status, err := client.do(ctx, http.MethodPost, "/api/agent/start", body)
		if err != nil {
			logger.Error().Err(err).Msg("start_agent failed")
			return errorResult(fmt.Sprintf("Start error: %v", err)), nil
		}
		return envelopeResult(env, status), nil
	}
}

// handleAgentStatus implements the agent_status tool
func handleAgentStatus(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil || sessionID == "" {
			return errorResult("Error: session_id parameter is required"), nil
		}

		env, status, err := client.do(ctx, http.MethodGet, "/api/agent/"+url.PathEscape(sessionID)+"/status", nil)
		if err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("agent_status failed")
			return errorResult(fmt.Sprintf("Status error: %v", err)), nil
		}
		return envelopeResult(env, status), nil
	}
}

// handleListAgents implements the list_agents tool
func handleListAgents(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env, status, err := client.do(ctx, http.MethodGet, "/api/agents", nil)
		if err != nil {
			logger.Error().Err(err).Msg("list_agents failed")
			return errorResult(fmt.Sprintf("List error: %v", err)), nil
		}
		if env.Error || status >= http.StatusBadRequest {
			return errorResult(formatFailure(env, status)), nil
		}

		var listing struct {
			Agents []agentSummary `json:"agents"`
		}
		if err := json.Unmarshal(env.Data, &listing); err != nil {
			return errorResult(fmt.Sprintf("Unexpected list payload: %v", err)), nil
		}
		return textResult(formatAgentList(listing.Agents)), nil
	}
}

// handleControlAgent implements the control_agent tool
func handleControlAgent(client *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil || sessionID == "" {
			return errorResult("Error: session_id parameter is required"), nil
		}
		action, err := request.RequireString("action")
		if err != nil || action == "" {
			return errorResult("Error: action parameter is required"), nil
		}

		body := map[string]string{
			"session_id": sessionID,
			"action":     action,
			"task":       request.GetString("task", ""),
		}

		env, status, err := client.do(ctx, http.MethodPost, "/api/agent/control", body)
		if err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Str("action", action).Msg("control_agent failed")
			return errorResult(fmt.Sprintf("Control error: %v", err)), nil
		}
		return envelopeResult(env, status), nil
	}
}
