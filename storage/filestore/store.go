// Package filestore keeps each session namespace in a JSON file on disk.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core/session"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Dir is a directory of namespace files.
type Dir struct {
	path  string
	mutex sync.Mutex // serializes read-modify-write cycles
}

// Open prepares dir (created 0700 if missing) to hold session files.
func Open(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "creating session directory")
	}
	return &Dir{path: dir}, nil
}

// Store opens the Store of namespace.
func (d *Dir) Store(namespace string) (session.Store, error) {
	if namespace == "" {
		return nil, errors.New("filestore: empty namespace")
	}
	name := unsafeChars.ReplaceAllString(namespace, "_") + ".json"
	return &store{dir: d, file: filepath.Join(d.path, name)}, nil
}

type store struct {
	dir  *Dir
	file string
}

var _ session.Store = (*store)(nil) // interface compliance check

func (s *store) load() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, errors.Wrap(err, "reading session file")
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding session file")
	}
	return entries, nil
}

// save replaces the file atomically: write a temp file next to it, then rename.
func (s *store) save(entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "encoding session file")
	}

	tmp, err := os.CreateTemp(s.dir.path, filepath.Base(s.file)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp session file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op once renamed

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing temp session file")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "syncing temp session file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp session file")
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrap(err, "securing temp session file")
	}
	return errors.Wrap(os.Rename(tmpName, s.file), "replacing session file")
}

func (s *store) Get(_ context.Context, key string) (string, error) {
	s.dir.mutex.Lock()
	defer s.dir.mutex.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", err
	}
	if val, ok := entries[key]; ok {
		return val, nil
	}
	return "", session.ErrNotFound
}

func (s *store) Set(_ context.Context, key, value string) error {
	s.dir.mutex.Lock()
	defer s.dir.mutex.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[key] = value
	return s.save(entries)
}

func (s *store) Delete(_ context.Context, keys ...string) error {
	s.dir.mutex.Lock()
	defer s.dir.mutex.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	var changed bool
	for _, key := range keys {
		if _, ok := entries[key]; ok {
			delete(entries, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(entries)
}

func (s *store) Clear(_ context.Context) error {
	s.dir.mutex.Lock()
	defer s.dir.mutex.Unlock()

	if err := os.Remove(s.file); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing session file")
	}
	return nil
}
