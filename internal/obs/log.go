// Package obs is the observability kernel shared by every component:
// structured logging via a process-wide zerolog logger and
// counter/gauge/histogram metrics via prometheus/client_golang.
package obs

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogger sets up the process-wide zerolog logger: Unix time
// format always, a human-readable
// console writer everywhere except "production".
func ConfigureLogger(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
