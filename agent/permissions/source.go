// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrSourceNotFound is returned by Source.Load when no document exists yet
var ErrSourceNotFound = errors.New("permission document not found")

// Source loads and persists the permission document
type Source interface {
	Load(ctx context.Context) (map[string]Profile, error)
	Save(ctx context.Context, profiles map[string]Profile) error
}

// FileSource stores the permission document on local disk. Files ending in
// .yaml or .yml are YAML; anything else is JSON.
type FileSource struct {
	Path string
}

// NewFileSource returns a FileSource for path
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(f.Path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads and parses the document
func (f *FileSource) Load(ctx context.Context) (map[string]Profile, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read permissions file %s: %w", f.Path, err)
	}

	profiles := make(map[string]Profile)
	if f.isYAML() {
		err = yaml.Unmarshal(data, &profiles)
	} else {
		err = json.Unmarshal(data, &profiles)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse permissions file %s: %w", f.Path, err)
	}
	return profiles, nil
}

// Save writes the document atomically, creating the parent directory
func (f *FileSource) Save(ctx context.Context, profiles map[string]Profile) error {
	var (
		data []byte
		err  error
	)
	if f.isYAML() {
		data, err = yaml.Marshal(profiles)
	} else {
		data, err = json.MarshalIndent(profiles, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create permissions directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".permissions-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write permissions: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace permissions file: %w", err)
	}
	return nil
}

// MemorySource keeps the document in process
type MemorySource struct {
	mu       sync.Mutex
	profiles map[string]Profile
	saves    int
}

// NewMemorySource returns a source holding profiles. A nil map means no
// document exists yet.
func NewMemorySource(profiles map[string]Profile) *MemorySource {
	m := &MemorySource{}
	if profiles != nil {
		m.profiles = copyProfiles(profiles)
	}
	return m
}

// Load returns a copy of the held document
func (m *MemorySource) Load(ctx context.Context) (map[string]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles == nil {
		return nil, ErrSourceNotFound
	}
	return copyProfiles(m.profiles), nil
}

// Save replaces the held document
func (m *MemorySource) Save(ctx context.Context, profiles map[string]Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = copyProfiles(profiles)
	m.saves++
	return nil
}

// Saves returns how many times Save was called
func (m *MemorySource) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func copyProfiles(in map[string]Profile) map[string]Profile {
	out := make(map[string]Profile, len(in))
	for id, p := range in {
		out[id] = p.Clone()
	}
	return out
}
