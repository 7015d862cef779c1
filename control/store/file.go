package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// fileVersion is the current version of the settings file format.
const fileVersion = 1

// fileContents is the JSON form of a File store.
type fileContents struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Values  map[string]uint8 `json:"values"`
}

// File keeps settings in a JSON file.  Commit replaces the file atomically.
type File struct {
	*buffer
	path string
}

// OpenFile opens the store at path.  A missing file is an empty store.
func OpenFile(path string) (*File, error) {
	committed := map[uint8]byte{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		var c fileContents
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
		for k, v := range c.Values {
			addr, err := strconv.ParseUint(k, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("parse settings %s: bad address %q: %w", path, k, err)
			}
			committed[uint8(addr)] = v
		}
	}
	return &File{buffer: newBuffer(committed), path: path}, nil
}

// Commit implements options.Store.
func (f *File) Commit() error {
	return f.commit(func(all, _ map[uint8]byte) error {
		c := fileContents{
			Version: fileVersion,
			SavedAt: time.Now(),
			Values:  make(map[string]uint8, len(all)),
		}
		for k, v := range all {
			c.Values[strconv.Itoa(int(k))] = v
		}
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
		dir := filepath.Dir(f.path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
		tmp, err := os.CreateTemp(dir, ".settings-*")
		if err != nil {
			return fmt.Errorf("create temporary settings file: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("write settings: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("sync settings: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close settings: %w", err)
		}
		if err := os.Rename(tmp.Name(), f.path); err != nil {
			return fmt.Errorf("replace settings: %w", err)
		}
		return nil
	})
}

// Close makes the store unusable.  Uncommitted writes are lost.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
