// Package preferences persists local user preferences, such as the location
// sharing toggle, independently of the remote ledger.
package preferences

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultPreferencesDir = "./wal/preferences"
	prefSegmentLimit      = 1000
	prefMaxSegments       = 100
	prefKeyPrefix         = "pref_"
)

// record is the WAL payload of a single preference write.
type record struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WALStore keeps preferences in a WAL and serves reads from the replayed latest values.
type WALStore struct {
	wal    *gowal.Wal
	mu     sync.RWMutex
	values map[string]string
}

// NewWALStore opens (or creates) the preference WAL under dir and replays it.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultPreferencesDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "prefs_",
		SegmentThreshold: prefSegmentLimit,
		MaxSegments:      prefMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init preferences WAL")
	}

	// replay in index order so the latest write of a key wins
	values := make(map[string]string)
	for idx := uint64(1); idx <= wal.CurrentIndex(); idx++ {
		key, payload, err := wal.Get(idx)
		if err != nil {
			_ = wal.Close()
			return nil, errors.Wrapf(err, "read preference record %d", idx)
		}
		// unknown indexes come back with an empty key
		if !strings.HasPrefix(key, prefKeyPrefix) {
			continue
		}
		var rec record
		if err := json.Unmarshal(payload, &rec); err != nil {
			_ = wal.Close()
			return nil, errors.Wrapf(err, "decode preference record %s", key)
		}
		values[rec.Key] = rec.Value
	}

	return &WALStore{wal: wal, values: values}, nil
}

// Get returns the stored value and whether it exists.
func (s *WALStore) Get(key string) (string, bool, error) {
	if s == nil || s.wal == nil {
		return "", false, errors.New("preference store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

// Set durably writes the value before making it visible to Get.
func (s *WALStore) Set(key, value string) error {
	if s == nil || s.wal == nil {
		return errors.New("preference store is not initialized")
	}
	if key == "" {
		return fmt.Errorf("preference key is required")
	}

	payload, err := json.Marshal(record{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "marshal preference")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, prefKeyPrefix+key, payload); err != nil {
		return errors.Wrapf(err, "write preference %s", key)
	}
	s.values[key] = value

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("preference store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
