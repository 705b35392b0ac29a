package client

import (
	"time"

	"github.com/rs/zerolog"
)

// backoffFor returns the delay to wait after the given connect attempt
// (1-indexed) has failed, and the log level to report it at. This is a fixed,
// attempt-indexed schedule, not an exponential curve: after attempt 1 fails
// the retry is immediate, after attempts 2 through 9 it waits a second, and
// from attempt 10 onward it waits five seconds indefinitely.
func backoffFor(attempt int) (time.Duration, zerolog.Level) {
	switch {
	case attempt <= 1:
		return 0, zerolog.InfoLevel
	case attempt < 10:
		return time.Second, zerolog.WarnLevel
	default:
		return 5 * time.Second, zerolog.ErrorLevel
	}
}
