// Package jobstore implements the Job Record Store: an append-only
// per-job record (status, timestamps, token stats) plus a companion
// newline-delimited stream of output entries, persisted under
// <state-root>/jobs/<job-id>.json and <state-root>/jobs/<job-id>.log.
package jobstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/pkg/api"
)

// ErrJobNotFound is returned when an unknown job id is queried.
var ErrJobNotFound = errors.New("job record not found")

const jobRecordVersion = 1

type jobRecordFile struct {
	Version int      `json:"version"`
	Job     api.Job  `json:"job"`
}

// Store is the Job Record Store. One writer per job is guaranteed by the
// Job Executor, but status updates and output appends still interleave,
// so both are serialised behind a per-job mutex.
type Store struct {
	root  string
	log   *logger.Logger
	index *Index // optional queryable mirror; nil when no SQLite index is wired

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Job Record Store rooted at stateRoot/jobs.
func New(stateRoot string, log *logger.Logger) *Store {
	return &Store{
		root:  filepath.Join(stateRoot, "jobs"),
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

// WithIndex attaches a queryable SQLite index that mirrors every
// Create/UpdateStatus call. Index failures are logged, never propagated —
// the file-based record remains authoritative.
func (s *Store) WithIndex(index *Index) *Store {
	s.index = index
	return s
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) recordPath(id string) string { return filepath.Join(s.root, id+".json") }
func (s *Store) logPath(id string) string    { return filepath.Join(s.root, id+".log") }

// Create writes a pending Job record and returns its id.
func (s *Store) Create(job api.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = api.JobPending
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}

	lock := s.lockFor(job.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create jobs dir: %w", err)
	}
	if err := s.writeRecord(job); err != nil {
		return "", err
	}
	s.upsertIndex(job)
	return job.ID, nil
}

// upsertIndex mirrors job into the optional SQLite index, logging rather
// than failing the caller if it's unavailable or errors.
func (s *Store) upsertIndex(job api.Job) {
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(context.Background(), job); err != nil {
		s.log.Warn("job index upsert failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Store) writeRecord(job api.Job) error {
	data, err := json.MarshalIndent(jobRecordFile{Version: jobRecordVersion, Job: job}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := atomicwriter.WriteFile(s.recordPath(job.ID), data, 0o644); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

// Get loads the job record for id.
func (s *Store) Get(id string) (api.Job, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return s.readLocked(id)
}

func (s *Store) readLocked(id string) (api.Job, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if os.IsNotExist(err) {
		return api.Job{}, ErrJobNotFound
	}
	if err != nil {
		return api.Job{}, fmt.Errorf("state-read-error: %w", err)
	}
	var rf jobRecordFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return api.Job{}, fmt.Errorf("state-read-error: corrupt job record %s: %w", id, err)
	}
	return rf.Job, nil
}

// StatusFields is the atomic patch applied by UpdateStatus; nil fields
// are left unchanged.
type StatusFields struct {
	SessionID    *string
	FinishedAt   *time.Time
	Tokens       *api.TokenStats
	Summary      *string
	Error        *string
}

// UpdateStatus atomically patches a job's status and any provided fields.
func (s *Store) UpdateStatus(id string, status api.JobStatus, fields StatusFields) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.readLocked(id)
	if err != nil {
		return err
	}
	job.Status = status
	if fields.SessionID != nil {
		job.SessionID = *fields.SessionID
	}
	if fields.FinishedAt != nil {
		job.FinishedAt = fields.FinishedAt
	}
	if fields.Tokens != nil {
		job.Tokens = *fields.Tokens
	}
	if fields.Summary != nil {
		job.Summary = *fields.Summary
	}
	if fields.Error != nil {
		job.Error = *fields.Error
	}
	if err := s.writeRecord(job); err != nil {
		return err
	}
	s.upsertIndex(job)
	return nil
}

// AppendOutput appends entry to the job's output log. Entries within a
// single job are written strictly in call order.
func (s *Store) AppendOutput(id string, entry api.OutputEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(s.logPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open job output log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal output entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append output entry: %w", err)
	}
	return nil
}

// ReadOutput returns every output entry recorded for id, in append order.
func (s *Store) ReadOutput(id string) ([]api.OutputEntry, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(s.logPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open job output log: %w", err)
	}
	defer f.Close()

	var entries []api.OutputEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e api.OutputEntry
		if err := json.Unmarshal(line, &e); err != nil {
			s.log.Warn("skipping corrupt output entry", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// List returns every job id with a persisted record.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jobs dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > 5 && name[len(name)-5:] == ".json" {
			ids = append(ids, name[:len(name)-5])
		}
	}
	return ids, nil
}
