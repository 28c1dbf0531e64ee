package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createStartAgentTool returns the start_agent tool definition
func createStartAgentTool() mcp.Tool {
	return mcp.NewTool("start_agent",
		mcp.WithDescription("Start a browser automation agent that works through a natural-language task"),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("Instruction for the agent, e.g. 'log in and open the billing page'"),
		),
		mcp.WithString("url",
			mcp.Description("Page to open before the first step"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session id to use (generated when omitted)"),
		),
		mcp.WithNumber("max_steps",
			mcp.Description("Step budget for the run (default: server setting)"),
		),
		mcp.WithBoolean("headless",
			mcp.Description("Run the browser without a window (default: server setting)"),
		),
	)
}

// createAgentStatusTool returns the agent_status tool definition
func createAgentStatusTool() mcp.Tool {
	return mcp.NewTool("agent_status",
		mcp.WithDescription("Get the current status of an agent session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id returned by start_agent (format: session_{uuid})"),
		),
	)
}

// createListAgentsTool returns the list_agents tool definition
func createListAgentsTool() mcp.Tool {
	return mcp.NewTool("list_agents",
		mcp.WithDescription("List all active agent sessions"),
	)
}

// createControlAgentTool returns the control_agent tool definition
func createControlAgentTool() mcp.Tool {
	return mcp.NewTool("control_agent",
		mcp.WithDescription("Pause, resume or stop an agent, or update its task"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id of the agent"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Enum("pause", "resume", "stop", "update_task"),
			mcp.Description("Control action"),
		),
		mcp.WithString("task",
			mcp.Description("Additional instruction, required for update_task"),
		),
	)
}
