// Package logger configures the global zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup writes human-readable logs to out and, when file is set, JSON logs
// to a daily rotated file that keeps ten days.
func Setup(out io.Writer, level, file string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	if file == "" {
		log.Logger = log.Output(console)
		return nil
	}

	w, err := FileWriter(file)
	if err != nil {
		log.Logger = log.Output(console)
		return err
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, w)).With().Timestamp().Logger()
	return nil
}

// FileWriter rotates path daily, linking path itself to the current file.
func FileWriter(path string) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationCount(10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rotating log file: %w", err)
	}
	return w, nil
}
