// Package accounting implements the append-only NDJSON earnings
// journal every task transition is written to. Grounded on
// original_source/edge_server/accounting.py's append_log_entry:
// single process-wide lock, one JSON object per line, an optional
// signing hook that leaves signature explicit-null when absent.
package accounting

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nunet-edge/overlay-node/models"
)

// Signer is the capability Journal uses to sign an entry's canonical
// form before the signature field is attached. identity.KeyPair does
// not implement this directly; callers wrap it with KeySigner.
type Signer interface {
	Sign(v interface{}) (string, error)
}

// Journal is an append-only, newline-delimited JSON log file guarded
// by a single mutex, matching the original's one-process, one-lock
// design (no concurrent writers across processes is assumed).
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	signer Signer
}

// Open creates or appends to the journal file at path. signer may be
// nil, in which case every entry's signature field is written as an
// explicit null.
func Open(path string, signer Signer) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open accounting journal at %s", path)
	}
	return &Journal{file: f, path: path, signer: signer}, nil
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	return j.file.Close()
}

// Append builds an AccountingEntry for this event, optionally signs
// it, writes it as one JSON line, and returns it to the caller.
func (j *Journal) Append(eventType, taskID, nodeID string, details map[string]interface{}) (models.AccountingEntry, error) {
	entry := models.AccountingEntry{
		TimestampUTC: time.Now().UTC().Format(time.RFC3339),
		TaskID:       taskID,
		EventType:    eventType,
		NodeID:       nodeID,
		Details:      details,
	}

	if j.signer != nil {
		sig, err := j.signer.Sign(entry)
		if err != nil {
			return models.AccountingEntry{}, errors.Wrap(err, "failed to sign accounting entry")
		}
		entry.Signature = &sig
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return models.AccountingEntry{}, errors.Wrap(err, "failed to marshal accounting entry")
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(line); err != nil {
		return models.AccountingEntry{}, errors.Wrap(err, "failed to append accounting entry")
	}
	return entry, nil
}

// ReadAll parses every line currently on disk into an AccountingEntry,
// for the /logs route. It reopens the file read-only rather than
// seeking the append-mode handle, since a write-only fd can't be read
// back on all platforms.
func (j *Journal) ReadAll() ([]models.AccountingEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open accounting journal at %s", j.path)
	}
	defer f.Close()

	var entries []models.AccountingEntry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e models.AccountingEntry
		if err := dec.Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to decode accounting entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
