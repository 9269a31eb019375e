package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

const (
	FieldModule   = "module"
	FieldIntent   = "intent_id"
	FieldSolution = "solution_id"
	FieldReason   = "reason"
)

func New(writer io.Writer, level zerolog.Level, jsonOutput bool) zerolog.Logger {
	if !jsonOutput {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Caller().Logger()
}

// NewTesting returns a logger that writes through t.Log
func NewTesting(t zerolog.TestingLog) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
