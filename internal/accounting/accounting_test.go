package accounting

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/models"
)

func TestAppendWithoutSignerWritesExplicitNullSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounting.ndjson")
	j, err := Open(path, nil)
	require.NoError(t, err)
	defer j.Close()

	entry, err := j.Append(models.AccountingEventAdmitted, "task-1", "node-1", map[string]interface{}{"cpu_cores": 2.0})
	require.NoError(t, err)
	assert.Nil(t, entry.Signature)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw[:len(raw)-1], &decoded)) // strip trailing newline
	sig, present := decoded["signature"]
	assert.True(t, present)
	assert.Nil(t, sig)
}

func TestAppendWithSignerAttachesSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounting.ndjson")
	kp, err := identity.Generate()
	require.NoError(t, err)

	j, err := Open(path, KeySigner{Priv: kp.Private})
	require.NoError(t, err)
	defer j.Close()

	entry, err := j.Append(models.AccountingEventCompleted, "task-1", "node-1", nil)
	require.NoError(t, err)
	require.NotNil(t, entry.Signature)
	assert.NotEmpty(t, *entry.Signature)
}

func TestAppendIsOneLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounting.ndjson")
	j, err := Open(path, nil)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 3; i++ {
		_, err := j.Append(models.AccountingEventScheduledToNode, "task-1", "node-1", nil)
		require.NoError(t, err)
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestOpenAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounting.ndjson")

	j1, err := Open(path, nil)
	require.NoError(t, err)
	_, err = j1.Append(models.AccountingEventAdmitted, "task-1", "node-1", nil)
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	j2, err := Open(path, nil)
	require.NoError(t, err)
	defer j2.Close()
	_, err = j2.Append(models.AccountingEventCompleted, "task-1", "node-1", nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, len(splitLines(string(raw))))
}

func TestReadAllReturnsEveryAppendedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounting.ndjson")
	j, err := Open(path, nil)
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Append(models.AccountingEventAdmitted, "task-1", "node-1", nil)
	require.NoError(t, err)
	_, err = j.Append(models.AccountingEventCompleted, "task-1", "node-1", nil)
	require.NoError(t, err)

	entries, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AccountingEventAdmitted, entries[0].EventType)
	assert.Equal(t, models.AccountingEventCompleted, entries[1].EventType)
}

func TestReadAllOnEmptyJournalReturnsNoEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounting.ndjson")
	j, err := Open(path, nil)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
