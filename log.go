package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// setupLog configures the global logger: stderr by default, a file when
// NARRO_LOGFILE is set. The returned closer flushes the file on exit.
func setupLog() (func() error, error) {
	log.SetTimeFormat(time.Kitchen)
	log.SetLevel(log.InfoLevel)
	if os.Getenv("NARRO_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	logFile := os.Getenv("NARRO_LOGFILE")
	if logFile == "" {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	log.SetOutput(f)
	log.SetLevel(log.DebugLevel)
	return f.Close, nil
}
