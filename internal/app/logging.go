package app

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/gamehook/internal/config"
	"github.com/dshills/gamehook/internal/logging"
)

// openLogger creates the root logger. Output goes to out when set, else to
// core.log_file when set, else to stderr. The returned closer is nil unless
// a file was opened.
func openLogger(cfg config.CoreConfig, out io.Writer) (*logging.Logger, io.Closer, error) {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.LogLevel)

	var closer io.Closer
	switch {
	case out != nil:
		lc.Output = out
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		lc.Output = f
		closer = f
	}
	return logging.New(lc), closer, nil
}
