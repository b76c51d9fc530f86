// Package httpclient builds the retrying HTTP client used for fetching
// remote configuration such as compartment maps and JWKS documents.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// DefaultRetryMax is the number of retries after the first attempt.
const DefaultRetryMax = 3

// New returns a standard *http.Client backed by a retryablehttp client that
// reports retries through logger.
func New(logger zerolog.Logger, timeout time.Duration) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = DefaultRetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = LeveledLogger{Logger: logger}
	retryClient.HTTPClient = &http.Client{
		Timeout: timeout,
	}
	return retryClient.StandardClient()
}

// LeveledLogger adapts a zerolog.Logger to retryablehttp.LeveledLogger.
type LeveledLogger struct {
	Logger zerolog.Logger
}

func (l LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.Logger.Warn().Fields(keysAndValues).Msg(msg)
}

var _ retryablehttp.LeveledLogger = LeveledLogger{}
