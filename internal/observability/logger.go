package observability

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tipctl/internal/logging"
)

// InitLogger configures the runtime logger and tags every event with app.
// level applies only when TIPCTL_LOG_LEVEL is unset.
func InitLogger(app, level string) zerolog.Logger {
	logging.ConfigureRuntime()
	if lvl, ok := logging.ParseLevel(level); ok && os.Getenv(logging.EnvLogLevel) == "" {
		zerolog.SetGlobalLevel(lvl)
		log.Logger = log.Logger.Level(lvl)
	}
	log.Logger = log.Logger.With().Str("app", app).Logger()
	return log.Logger
}
