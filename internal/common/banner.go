package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective endpoints
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("AgentStream", CurrentBuild().Version)

	addr := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	logger.Info().
		Str("version", CurrentBuild().String()).
		Str("http", addr).
		Str("ws_global", fmt.Sprintf("ws://%s:%d/ws/logs", config.Server.Host, config.Server.Port)).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Msg("AgentStream ready")
}
