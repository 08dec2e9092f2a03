package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"econbot/internal/calendar"
	"econbot/pkg/logx"
)

// compactEvery is the number of journal appends between compactions.
const compactEvery = 500

// fileStore keeps the full event set in memory and persists it as:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (one record per Put or Prune since the snapshot)
//
// The journal is folded into the snapshot every compactEvery writes and on
// Close.
type fileStore struct {
	log logx.Logger

	mu sync.RWMutex

	idx          memIndex
	snapshotPath string
	journal      *os.File
	writes       int
}

// journalRecord is either an upsert (Event set) or a prune (Before set).
type journalRecord struct {
	Event  *calendar.Event `json:"event,omitempty"`
	Before *time.Time      `json:"prune_before,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		idx:          newMemIndex(),
		snapshotPath: prefix + ".snapshot.json",
	}
	journalPath := prefix + ".journal.jsonl"

	if err := loadSnapshot(s.snapshotPath, s.idx); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	n, err := replayJournal(journalPath, s.idx)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateLine(jf); err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	s.writes = n
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("events", len(s.idx.events)), logx.Int("journal", n))
	return s, nil
}

func (s *fileStore) Get(_ context.Context, key calendar.Key) (calendar.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return calendar.Event{}, false, ErrClosed
	}
	ev, ok := s.idx.get(key)
	return ev, ok, nil
}

func (s *fileStore) Put(_ context.Context, ev calendar.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalRecord{Event: &ev}); err != nil {
		return err
	}
	s.idx.put(ev)
	return nil
}

func (s *fileStore) Range(_ context.Context, from, to time.Time) ([]calendar.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.idx.rangeOf(from, to), nil
}

func (s *fileStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	b := before.UTC()
	if err := s.appendLocked(journalRecord{Before: &b}); err != nil {
		return 0, err
	}
	return s.idx.prune(before), nil
}

func (s *fileStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes >= compactEvery {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes a fresh snapshot via rename and truncates the journal.
func (s *fileStore) compactLocked() error {
	if s.writes == 0 {
		return nil
	}
	evs := make([]calendar.Event, 0, len(s.idx.events))
	for _, ev := range s.idx.events {
		evs = append(evs, ev)
	}
	calendar.Sort(evs)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(evs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.writes = 0
	return nil
}

// terminateLine appends a newline if a torn record left the journal without
// one, so the next append starts on its own line.
func terminateLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] != '\n' {
		_, err = f.Write([]byte("\n"))
	}
	return err
}

func loadSnapshot(path string, idx memIndex) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var evs []calendar.Event
	if err := json.NewDecoder(f).Decode(&evs); err != nil {
		return err
	}
	for _, ev := range evs {
		idx.put(ev)
	}
	return nil
}

// replayJournal applies journal records in order. A torn last line (crash
// mid-append) is skipped.
func replayJournal(path string, idx memIndex) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		switch {
		case rec.Event != nil && rec.Event.Name != "":
			idx.put(*rec.Event)
		case rec.Before != nil:
			idx.prune(*rec.Before)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
