package observability

import (
	"os"

	"github.com/danmuck/someip/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs a logger tagged with app as the global logger.
func InitLogger(app string, cfg logging.Config) zerolog.Logger {
	logger := logging.New(cfg, os.Stderr).With().Str("app", app).Logger()
	log.Logger = logger
	zerolog.SetGlobalLevel(cfg.Level)
	return logger
}
