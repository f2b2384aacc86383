// Package history keeps a tamper-evident JSONL journal of verdicts so a
// provisioning timeline can be reconstructed after the fact.
package history

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/breeze-rmm/espgate/internal/logging"
)

var log = logging.L("history")

// Event types.
const (
	EventEvaluation    = "evaluation"
	EventMarkerWritten = "marker_written"
	EventLogRotated    = "log_rotated"
)

const genesisHash = "genesis"

// ErrChainBroken is returned by Verify when an entry does not link to its
// predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("history hash chain broken")

// Entry is a single journal record.
type Entry struct {
	Timestamp string         `json:"timestamp" yaml:"timestamp"`
	Event     string         `json:"event" yaml:"event"`
	Profile   string         `json:"profile,omitempty" yaml:"profile,omitempty"`
	Verdict   string         `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Reason    string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	PrevHash  string         `json:"prevHash" yaml:"prevHash"`
	EntryHash string         `json:"entryHash" yaml:"entryHash"`
}

// Journal appends hash-chained entries to a size-rotated file. On rotation
// a sentinel entry links the new file to the last entry of the old one.
type Journal struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	now        func() time.Time
}

// Open opens or creates the journal at filePath, resuming the hash chain
// from its last entry.
func Open(filePath string, maxSizeMB, maxBackups int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	if maxBackups <= 0 {
		maxBackups = 2
	}

	j := &Journal{
		filePath:   filePath,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesisHash,
		now:        time.Now,
	}

	entries, err := ReadAll(filePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(entries) > 0 {
		j.prevHash = entries[len(entries)-1].EntryHash
	}

	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append writes one entry. The chain only advances after a successful
// write. Safe to call on a nil receiver (no-op).
func (j *Journal) Append(e Entry) error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = j.now().UTC().Format(time.RFC3339Nano)
	}
	e.PrevHash = j.prevHash

	data, err := seal(&e)
	if err != nil {
		return err
	}

	if j.written > 0 && j.written+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("history rotation: %w", err)
		}
		e.PrevHash = j.prevHash
		if data, err = seal(&e); err != nil {
			return err
		}
	}

	n, err := j.file.Write(data)
	j.written += int64(n)
	if err != nil {
		return fmt.Errorf("write history entry: %w", err)
	}
	j.prevHash = e.EntryHash
	return nil
}

// Close closes the journal file. Safe to call on a nil receiver.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// seal computes the entry hash and returns the JSONL line.
func seal(e *Entry) ([]byte, error) {
	hash, err := computeHash(*e)
	if err != nil {
		return nil, err
	}
	e.EntryHash = hash

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal history entry: %w", err)
	}
	return append(data, '\n'), nil
}

// computeHash length-prefixes every field so no two field combinations
// produce the same input.
func computeHash(e Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{e.Timestamp, e.Event, e.Profile, e.Verdict, e.Reason, e.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if e.Details != nil {
		detailBytes, err := json.Marshal(e.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(detailBytes))
		h.Write(detailBytes)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (j *Journal) openFile() error {
	f, err := os.OpenFile(j.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat history: %w", err)
	}

	j.file = f
	j.written = info.Size()
	return nil
}

func (j *Journal) rotate() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}

	for i := j.maxBackups; i >= 2; i-- {
		src := j.backupName(i - 1)
		dst := j.backupName(i)
		if i == j.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("history rotation: failed to remove oldest backup", "path", dst, "error", err)
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("history rotation: failed to rename backup", "src", src, "dst", dst, "error", err)
		}
	}
	if err := os.Rename(j.filePath, j.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("history rotation: failed to rename current file", "error", err)
	}

	if err := j.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: j.now().UTC().Format(time.RFC3339Nano),
		Event:     EventLogRotated,
		PrevHash:  j.prevHash,
		Details:   map[string]any{"previousFile": j.backupName(1)},
	}
	data, err := seal(&sentinel)
	if err != nil {
		return err
	}
	n, err := j.file.Write(data)
	j.written += int64(n)
	if err != nil {
		return fmt.Errorf("write rotation sentinel: %w", err)
	}
	j.prevHash = sentinel.EntryHash
	return nil
}

func (j *Journal) backupName(index int) string {
	if index == 0 {
		return j.filePath
	}
	return fmt.Sprintf("%s.%d", j.filePath, index)
}

// ReadAll reads every entry of one journal file.
func ReadAll(filePath string) ([]Entry, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("%s line %d: %w", filePath, line, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Verify checks that entries form an unbroken chain. The first entry's
// PrevHash is trusted since it may link into a rotated-away file.
func Verify(entries []Entry) error {
	for i, e := range entries {
		want, err := computeHash(e)
		if err != nil {
			return err
		}
		if want != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			return fmt.Errorf("%w: entry %d does not link to entry %d", ErrChainBroken, i, i-1)
		}
	}
	return nil
}
