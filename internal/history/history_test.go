package history

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "history.jsonl"), 1, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return j
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	if err := j.Append(Entry{Event: EventEvaluation}); err != nil {
		t.Fatalf("nil Append returned error: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("nil Close returned error: %v", err)
	}
}

func TestAppendWritesChainedEntries(t *testing.T) {
	j := newTestJournal(t)
	for _, verdict := range []string{"running", "running", "complete"} {
		if err := j.Append(Entry{Event: EventEvaluation, Profile: "detection", Verdict: verdict, Details: map[string]any{"userless": false}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	j.Close()

	entries, err := ReadAll(j.filePath)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].PrevHash != genesisHash {
		t.Fatalf("first prevHash = %q, want genesis", entries[0].PrevHash)
	}
	if entries[2].Verdict != "complete" || entries[2].Timestamp != "2026-10-19T12:00:00Z" {
		t.Fatalf("unexpected last entry %+v", entries[2])
	}
	if err := Verify(entries); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestOpenResumesChain(t *testing.T) {
	j := newTestJournal(t)
	if err := j.Append(Entry{Event: EventEvaluation, Verdict: "running"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	j.Close()

	reopened, err := Open(j.filePath, 1, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Append(Entry{Event: EventEvaluation, Verdict: "complete"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	reopened.Close()

	entries, err := ReadAll(j.filePath)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := Verify(entries); err != nil {
		t.Fatalf("chain should continue across runs: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	j := newTestJournal(t)
	j.Append(Entry{Event: EventEvaluation, Verdict: "running"})
	j.Append(Entry{Event: EventEvaluation, Verdict: "running"})
	j.Close()

	entries, _ := ReadAll(j.filePath)
	entries[1].Verdict = "complete"
	if err := Verify(entries); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("err = %v, want ErrChainBroken", err)
	}

	entries, _ = ReadAll(j.filePath)
	entries[1].PrevHash = "forged"
	if err := Verify(entries); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("err = %v, want ErrChainBroken", err)
	}
}

func TestRotationWritesLinkedSentinel(t *testing.T) {
	j := newTestJournal(t)
	big := strings.Repeat("x", 300*1024)
	for i := 0; i < 5; i++ {
		if err := j.Append(Entry{Event: EventEvaluation, Reason: big}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	j.Close()

	if _, err := os.Stat(j.filePath + ".1"); err != nil {
		t.Fatalf("expected rotated backup: %v", err)
	}
	old, err := ReadAll(j.filePath + ".1")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	current, err := ReadAll(j.filePath)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if current[0].Event != EventLogRotated {
		t.Fatalf("first entry after rotation = %q, want sentinel", current[0].Event)
	}
	if current[0].PrevHash != old[len(old)-1].EntryHash {
		t.Fatal("sentinel must link to the last entry of the rotated file")
	}
	if err := Verify(append(old, current...)); err != nil {
		t.Fatalf("chain across rotation: %v", err)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	_, err := ReadAll(filepath.Join(t.TempDir(), "absent.jsonl"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not exist", err)
	}
}
