package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the resolved endpoints
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("MenuLens", GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("api_base_url", config.API.BaseURL).
		Str("poll_interval", config.Progress.PollInterval).
		Str("reconnect_delay", config.Progress.ReconnectDelay).
		Str("min_display_duration", config.Progress.MinDisplayDuration).
		Msg("MenuLens client configured")
}
