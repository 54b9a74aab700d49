package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendThenFlushIsReadableInInsertionOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	log, err := New(path, "instance-1", nil)
	require.NoError(t, err)
	defer log.Close()

	log.Append(Record{RunID: "r1", Actor: "purchase_executor", Action: "validation_start"})
	log.Append(Record{RunID: "r1", Actor: "purchase_executor", Action: "risk_computed"})
	log.Append(Record{RunID: "r1", Actor: "purchase_executor", Action: "terminal_result"})
	require.NoError(t, log.Flush())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var actions []string
	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		actions = append(actions, rec.Action)
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"validation_start", "risk_computed", "terminal_result"}, actions)
	assert.Equal(t, []string{"instance-1-1", "instance-1-2", "instance-1-3"}, ids, "ids are a monotonic per-process sequence plus the instance marker")
}

func TestArchiveRunIsNoOpWithoutArchiver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	log, err := New(path, "instance-1", nil)
	require.NoError(t, err)
	defer log.Close()

	err = log.ArchiveRun("r1", []Record{{RunID: "r1", Action: "terminal_result"}})
	assert.NoError(t, err)
}

type fakeArchiver struct {
	runID   string
	relPath string
	content []byte
}

func (f *fakeArchiver) Put(runID, path string, content []byte) error {
	f.runID = runID
	f.relPath = path
	f.content = content
	return nil
}

func TestArchiveRunMirrorsRecordsThroughArchiver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	fa := &fakeArchiver{}
	log, err := New(path, "instance-1", fa)
	require.NoError(t, err)
	defer log.Close()

	records := []Record{
		{RunID: "r1", Action: "validation_start"},
		{RunID: "r1", Action: "terminal_result"},
	}
	require.NoError(t, log.ArchiveRun("r1", records))
	assert.Equal(t, "r1", fa.runID)
	assert.Equal(t, "audit.ndjson", fa.relPath)
	assert.Contains(t, string(fa.content), "validation_start")
	assert.Contains(t, string(fa.content), "terminal_result")
}

func TestAppendIsSafeOnNilLog(t *testing.T) {
	var log *Log
	assert.NotPanics(t, func() {
		log.Append(Record{Action: "noop"})
		_ = log.Flush()
		_ = log.Close()
	})
}
