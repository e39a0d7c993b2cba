package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// ToolStateStore persists per-tool enabled flags between runs.
type ToolStateStore struct {
	path string
}

func NewToolStateStore(path string) *ToolStateStore {
	return &ToolStateStore{path: path}
}

func (s *ToolStateStore) Path() string {
	return s.path
}

// Load returns the saved states; a missing file yields an empty map.
func (s *ToolStateStore) Load() (map[string]bool, error) {
	states := make(map[string]bool)
	if s == nil || s.path == "" {
		return states, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return states, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tool states: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return states, nil
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("decode tool states %s: %w", s.path, err)
	}
	return states, nil
}

func (s *ToolStateStore) Save(states map[string]bool) error {
	if s == nil || s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tool states: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create tool state dir: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("write tool states: %w", err)
	}
	return nil
}
