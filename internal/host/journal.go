package host

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JournalEntry is one write-ahead record. An entry is appended and fsynced
// before the entity file is touched; a matching "done" record marks it
// processed. Entries without a "done" record at startup are replayed
// against the link graph.
type JournalEntry struct {
	Seq      int64  `json:"seq"`
	Op       string `json:"op"`
	EntityID string `json:"entity_id"`
	TS       string `json:"ts"`
}

const journalOpDone = "done"

// Journal is the append-only link-graph WAL at .kira/link_journal.jsonl.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
	seq  int64
}

// OpenJournal opens (creating if needed) the journal and returns the
// entries that were never marked processed, in append order.
func OpenJournal(path string) (*Journal, []JournalEntry, error) {
	entries, maxSeq, err := readJournal(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("host: open journal: %w", err)
	}
	return &Journal{path: path, file: file, seq: maxSeq}, entries, nil
}

// Append writes a record and fsyncs it before returning. The returned
// sequence number is passed to Mark once the write completes.
func (j *Journal) Append(op, entityID, ts string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	if err := j.write(JournalEntry{Seq: j.seq, Op: op, EntityID: entityID, TS: ts}); err != nil {
		return 0, err
	}
	return j.seq, nil
}

// Mark records that the entry's write completed.
func (j *Journal) Mark(seq int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(JournalEntry{Seq: seq, Op: journalOpDone})
}

// Compact truncates the journal after startup replay. Safe only when no
// writes are in flight.
func (j *Journal) Compact() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("host: compact journal: %w", err)
	}
	if _, err := j.file.Seek(0, 0); err != nil {
		return err
	}
	j.seq = 0
	return j.file.Sync()
}

// Close releases the journal file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

func (j *Journal) write(entry JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("host: append journal: %w", err)
	}
	return j.file.Sync()
}

func readJournal(path string) ([]JournalEntry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("host: read journal: %w", err)
	}
	defer file.Close()

	var (
		pending = make(map[int64]JournalEntry)
		order   []int64
		maxSeq  int64
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn trailing line from a crash mid-append. The write it
			// guarded never happened, so skipping is safe.
			continue
		}
		if entry.Seq > maxSeq {
			maxSeq = entry.Seq
		}
		if entry.Op == journalOpDone {
			delete(pending, entry.Seq)
			continue
		}
		if _, ok := pending[entry.Seq]; !ok {
			order = append(order, entry.Seq)
		}
		pending[entry.Seq] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("host: scan journal: %w", err)
	}

	var unprocessed []JournalEntry
	for _, seq := range order {
		if entry, ok := pending[seq]; ok {
			unprocessed = append(unprocessed, entry)
			delete(pending, seq)
		}
	}
	return unprocessed, maxSeq, nil
}
