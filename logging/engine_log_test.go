package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "line: %s", scanner.Text())
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestEngineLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testrun-1", EngineLogFilename)
	el, err := NewEngineLog(path)
	require.NoError(t, err)
	assert.Equal(t, path, el.Path())

	el.HandleLogMessage(engine.LevelInfo, "starting discovery")
	el.HandleLogMessage(engine.LevelWarning, "\x1b[33mduplicate\x1b[0m test id\n")
	el.HandleLogMessage(engine.LevelError, "adapter crashed")
	el.HandleLogMessage("verbose", "internal detail")
	require.NoError(t, el.Close())

	records := readRecords(t, path)
	require.Len(t, records, 4)

	assert.Equal(t, "starting discovery", records[0]["msg"])
	assert.Equal(t, "duplicate test id", records[1]["msg"])
	assert.Equal(t, "adapter crashed", records[2]["msg"])
	assert.Equal(t, "internal detail", records[3]["msg"])
	assert.Equal(t, "verbose", records[3]["engineLevel"])
}

func TestEngineLog_RequiresPath(t *testing.T) {
	_, err := NewEngineLog("")
	require.Error(t, err)
}
