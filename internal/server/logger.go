package server

import (
	"log"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// newErrorLog creates the http.Server error log. Lines go through hclog at
// warn level and end up in logger.
func newErrorLog(logger *slog.Logger, level hclog.Level) *log.Logger {
	hl := hclog.New(&hclog.LoggerOptions{
		Name:        "http",
		Level:       level,
		Output:      slogWriter{logger: logger},
		DisableTime: true,
	})
	return hl.StandardLogger(&hclog.StandardLoggerOptions{ForceLevel: hclog.Warn})
}

// slogWriter forwards formatted hclog lines to a slog.Logger.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Warn("http server", "message", strings.TrimSpace(string(p)))
	return len(p), nil
}
