// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings implements the device settings cache: a small record of
// persisted values read at startup and flushed on change.
package settings

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Settings is the persisted device record
type Settings struct {
	// Version is the hardware version reported by GET_HWINFO
	Version uint32 `cbor:"1,keyasint"`
}

// Store is the settings cache. Set changes the cached value only; Flush
// persists it.
type Store interface {
	Get() Settings
	Set(s Settings)
	Flush() error
}

// MemStore keeps settings in memory
type MemStore struct {
	mu      sync.Mutex
	current Settings
	flushed Settings
	flushes int
}

// NewMemStore creates a memory store holding initial
func NewMemStore(initial Settings) *MemStore {
	return &MemStore{current: initial, flushed: initial}
}

// Get returns the cached settings
func (m *MemStore) Get() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set updates the cached settings
func (m *MemStore) Set(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
}

// Flush marks the cached settings as persisted
func (m *MemStore) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = m.current
	m.flushes++
	return nil
}

// Persisted returns the settings as of the last Flush
func (m *MemStore) Persisted() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushed
}

// Flushes returns the number of Flush calls
func (m *MemStore) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// FileStore persists settings as a CBOR map in a file
type FileStore struct {
	mu      sync.Mutex
	path    string
	current Settings
}

// OpenFileStore loads settings from path. A missing file yields zero
// settings; the file is created on the first Flush.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := cbor.Unmarshal(data, &fs.current); err != nil {
		return nil, fmt.Errorf("failed to decode settings %s: %w", path, err)
	}
	return fs, nil
}

// Get returns the cached settings
func (f *FileStore) Get() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Set updates the cached settings
func (f *FileStore) Set(s Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = s
}

// Flush writes the cached settings to disk
func (f *FileStore) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := cbor.Marshal(f.current)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Path returns the backing file path
func (f *FileStore) Path() string {
	return f.path
}
