// Package automation is the browser automation engine. A run alternates
// between reading the page, asking the LLM planner for actions and executing
// them in Chrome. Its progress lines are written to the run's LogWriter in the
// format the log classifier understands.
package automation

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/interfaces"
)

// Config tunes every run created by an engine
type Config struct {
	StartURL          string
	StepTimeout       time.Duration // Planner call plus its actions
	ActionWait        time.Duration // Settle time after a browser action
	MaxActionsPerStep int
	MaxFailures       int // Consecutive failed steps before the run errors
	DefaultMaxSteps   int
	Screenshots       bool
}

// NewConfig derives the engine configuration from the agent section
func NewConfig(agent common.AgentConfig) Config {
	return Config{
		StartURL:          agent.StartURL,
		StepTimeout:       common.ParseDuration(agent.StepTimeout, 2*time.Minute),
		ActionWait:        common.ParseDuration(agent.ActionWait, time.Second),
		MaxActionsPerStep: 5,
		MaxFailures:       3,
		DefaultMaxSteps:   agent.MaxSteps,
		Screenshots:       true,
	}
}

// Engine creates automation runs backed by an LLM planner
type Engine struct {
	cfg    Config
	llm    interfaces.LLMService
	open   BrowserFactory
	logger arbor.ILogger
}

// NewEngine creates an engine. A nil open launches Chrome.
func NewEngine(cfg Config, llm interfaces.LLMService, open BrowserFactory, logger arbor.ILogger) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	if cfg.MaxActionsPerStep <= 0 {
		cfg.MaxActionsPerStep = 5
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.DefaultMaxSteps <= 0 {
		cfg.DefaultMaxSteps = 100
	}
	if open == nil {
		open = ChromeFactory(cfg.Screenshots, logger)
	}

	return &Engine{cfg: cfg, llm: llm, open: open, logger: logger}
}

// NewRun prepares a run. The browser is launched when Run is called.
func (e *Engine) NewRun(opts interfaces.RunOptions) (interfaces.AutomationRun, error) {
	if strings.TrimSpace(opts.Task) == "" {
		return nil, fmt.Errorf("task is required")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = e.cfg.DefaultMaxSteps
	}
	if opts.LogWriter == nil {
		opts.LogWriter = io.Discard
	}

	return newRun(e, opts), nil
}
