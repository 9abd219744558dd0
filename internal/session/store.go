package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"github.com/ikido/fleetctl/internal/common/logger"
	"go.uber.org/zap"
)

// Store is the Session Store: one file per agent under
// <state-root>/sessions/<agent>.json, cached behind a per-file mutex and
// written via temp-file-then-rename.
type Store struct {
	root string
	log  *logger.Logger

	mu    sync.Mutex
	cache map[string]*Record
	locks map[string]*sync.Mutex
}

// NewStore creates a Session Store rooted at stateRoot/sessions.
func NewStore(stateRoot string, log *logger.Logger) *Store {
	return &Store{
		root:  filepath.Join(stateRoot, "sessions"),
		log:   log.WithFields(zap.String("component", "session_store")),
		cache: make(map[string]*Record),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) fileLock(agent string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agent]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agent] = l
	}
	return l
}

func (s *Store) path(agent string) string {
	return filepath.Join(s.root, agent+".json")
}

// Get returns the cached or on-disk record for agent, or nil if none
// exists. A corrupt file is logged and treated as absent — callers must
// never silently trust a malformed record.
func (s *Store) Get(agent string) (*Record, error) {
	lock := s.fileLock(agent)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if r, ok := s.cache[agent]; ok {
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.path(agent))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state-read-error: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		s.log.Warn("corrupt session record, starting fresh", zap.String("agent", agent))
		return nil, nil
	}
	s.mu.Lock()
	s.cache[agent] = &r
	s.mu.Unlock()
	return &r, nil
}

// Put persists r for agent, retrying on rename failure (a transient
// antivirus/filesystem-lock quirk observed on some platforms).
func (s *Store) Put(agent string, r Record) error {
	r.Version = recordVersion
	lock := s.fileLock(agent)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	var writeErr error
	for attempt := 0; attempt < 3; attempt++ {
		writeErr = atomicwriter.WriteFile(s.path(agent), data, 0o644)
		if writeErr == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	if writeErr != nil {
		return fmt.Errorf("write session record: %w", writeErr)
	}

	s.mu.Lock()
	cp := r
	s.cache[agent] = &cp
	s.mu.Unlock()
	return nil
}

// Clear removes the stored record for agent, reporting whether one
// existed.
func (s *Store) Clear(agent string) (bool, error) {
	lock := s.fileLock(agent)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	_, existed := s.cache[agent]
	delete(s.cache, agent)
	s.mu.Unlock()

	err := os.Remove(s.path(agent))
	if os.IsNotExist(err) {
		return existed, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove session record: %w", err)
	}
	return true, nil
}

// CleanupExpired removes every on-disk record whose last_used_at is older
// than ttl, returning the count removed. Used at fleet initialise.
func (s *Store) CleanupExpired(now time.Time, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sessions dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		agent := trimJSONExt(e.Name())
		r, err := s.Get(agent)
		if err != nil || r == nil {
			continue
		}
		if r.LastUsedAt.Add(ttl).Before(now) {
			if _, err := s.Clear(agent); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func trimJSONExt(name string) string {
	if len(name) > 5 && name[len(name)-5:] == ".json" {
		return name[:len(name)-5]
	}
	return name
}

// KeyStore is the Conversation Key Store: one YAML file per
// (platform, agent) containing the set of conversation-key → session
// mappings for that pair, under <state-root>/chat-sessions/<platform>/<agent>.yaml.
type KeyStore struct {
	root string
	log  *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyStore creates a Conversation Key Store rooted at stateRoot/chat-sessions.
func NewKeyStore(stateRoot string, log *logger.Logger) *KeyStore {
	return &KeyStore{
		root:  filepath.Join(stateRoot, "chat-sessions"),
		log:   log.WithFields(zap.String("component", "conversation_key_store")),
		locks: make(map[string]*sync.Mutex),
	}
}

type keyFile struct {
	Version  int                              `yaml:"version"`
	Entries  map[string]ConversationKeyRecord `yaml:"entries"`
}

func (s *KeyStore) path(platform, agent string) string {
	return filepath.Join(s.root, platform, agent+".yaml")
}

func (s *KeyStore) fileLock(platform, agent string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := platform + "/" + agent
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *KeyStore) load(platform, agent string) (keyFile, error) {
	data, err := os.ReadFile(s.path(platform, agent))
	if os.IsNotExist(err) {
		return keyFile{Version: recordVersion, Entries: map[string]ConversationKeyRecord{}}, nil
	}
	if err != nil {
		return keyFile{}, fmt.Errorf("state-read-error: %w", err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		s.log.Warn("corrupt conversation key file, starting fresh",
			zap.String("platform", platform), zap.String("agent", agent))
		return keyFile{Version: recordVersion, Entries: map[string]ConversationKeyRecord{}}, nil
	}
	if kf.Entries == nil {
		kf.Entries = map[string]ConversationKeyRecord{}
	}
	return kf, nil
}

func (s *KeyStore) save(platform, agent string, kf keyFile) error {
	dir := filepath.Join(s.root, platform)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chat-sessions dir: %w", err)
	}
	kf.Version = recordVersion
	data, err := yaml.Marshal(kf)
	if err != nil {
		return fmt.Errorf("marshal conversation key file: %w", err)
	}
	return atomicwriter.WriteFile(s.path(platform, agent), data, 0o644)
}

// Get returns the record for (platform, agent, key), or nil if absent.
func (s *KeyStore) Get(platform, agent, key string) (*ConversationKeyRecord, error) {
	lock := s.fileLock(platform, agent)
	lock.Lock()
	defer lock.Unlock()

	kf, err := s.load(platform, agent)
	if err != nil {
		return nil, err
	}
	r, ok := kf.Entries[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Put writes the record for (platform, agent, key).
func (s *KeyStore) Put(platform, agent, key string, r ConversationKeyRecord) error {
	lock := s.fileLock(platform, agent)
	lock.Lock()
	defer lock.Unlock()

	kf, err := s.load(platform, agent)
	if err != nil {
		return err
	}
	kf.Entries[key] = r
	return s.save(platform, agent, kf)
}

// Clear removes the record for (platform, agent, key).
func (s *KeyStore) Clear(platform, agent, key string) (bool, error) {
	lock := s.fileLock(platform, agent)
	lock.Lock()
	defer lock.Unlock()

	kf, err := s.load(platform, agent)
	if err != nil {
		return false, err
	}
	if _, ok := kf.Entries[key]; !ok {
		return false, nil
	}
	delete(kf.Entries, key)
	if err := s.save(platform, agent, kf); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupExpired removes every entry across all platform/agent files whose
// last_activity_at is older than ttl, returning the count removed.
func (s *KeyStore) CleanupExpired(now time.Time, ttl time.Duration) (int, error) {
	platforms, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read chat-sessions dir: %w", err)
	}
	removed := 0
	for _, p := range platforms {
		if !p.IsDir() {
			continue
		}
		agents, err := os.ReadDir(filepath.Join(s.root, p.Name()))
		if err != nil {
			continue
		}
		for _, a := range agents {
			agent := trimYAMLExt(a.Name())
			lock := s.fileLock(p.Name(), agent)
			lock.Lock()
			kf, err := s.load(p.Name(), agent)
			if err != nil {
				lock.Unlock()
				continue
			}
			changed := false
			for k, r := range kf.Entries {
				if r.LastActivityAt.Add(ttl).Before(now) {
					delete(kf.Entries, k)
					removed++
					changed = true
				}
			}
			if changed {
				_ = s.save(p.Name(), agent, kf)
			}
			lock.Unlock()
		}
	}
	return removed, nil
}

func trimYAMLExt(name string) string {
	if len(name) > 5 && name[len(name)-5:] == ".yaml" {
		return name[:len(name)-5]
	}
	return name
}
