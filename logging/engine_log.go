package logging

import (
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
)

const (
	// EngineLogFilename holds the engine's log notifications as JSON lines
	EngineLogFilename = "engine.log"
	// EngineOutputFilename holds the stdout and stderr of a launched engine process
	EngineOutputFilename = "engine-output.log"
)

var _ engine.LogSink = (*EngineLog)(nil)

// EngineLog records the engine's diagnostic messages to a file
type EngineLog struct {
	file *AsyncFile
	log  log.Logger
}

// NewEngineLog creates an engine log writing JSON records to path
func NewEngineLog(path string) (*EngineLog, error) {
	if path == "" {
		return nil, fmt.Errorf("engine log path cannot be empty")
	}
	af, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	return &EngineLog{
		file: af,
		log:  log.NewLogger(log.JSONHandler(af)),
	}, nil
}

// Path returns the file the log is written to
func (e *EngineLog) Path() string {
	return e.file.Name()
}

// HandleLogMessage implements engine.LogSink
func (e *EngineLog) HandleLogMessage(level string, message string) {
	message = strings.TrimRight(stripansi.Strip(message), "\r\n")
	switch strings.ToLower(level) {
	case engine.LevelError:
		e.log.Error(message)
	case engine.LevelWarning, "warn":
		e.log.Warn(message)
	case engine.LevelInfo, "":
		e.log.Info(message)
	default:
		e.log.Debug(message, "engineLevel", level)
	}
}

// Close flushes and closes the log file
func (e *EngineLog) Close() error {
	return e.file.Close()
}
