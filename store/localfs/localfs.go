// localfs.go: local filesystem storage provider
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package localfs persists entries as one file per key under a directory.
// File names are blake2b hashes of the key spread over 256 subdirectories;
// the key itself is kept on the first line of the file so that prefix
// scans can recover it.
package localfs

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/agilira/xanthos/store"
	"golang.org/x/crypto/blake2b"
)

const (
	providerName = "localfs"
	fileExt      = ".xe"

	// maxKeyLength keeps the header line bounded.
	maxKeyLength = 1024
)

// Store implements store.Provider on top of a directory.
type Store struct {
	dir string

	subdirsMu   sync.RWMutex
	subdirsMade map[string]bool
}

// New opens (creating if needed) a store rooted at dir and checks that it
// is writable.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("localfs: directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("localfs: create dir: %w", err)
	}
	probe := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("localfs: dir not writable: %w", err)
	}
	_ = os.Remove(probe)

	return &Store{dir: dir, subdirsMade: make(map[string]bool)}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	sum := blake2b.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, h[:2], h+fileExt)
}

func validateKey(key string) error {
	if key == "" {
		return store.NewErrInvalidKey(providerName, key, "empty key")
	}
	if len(key) > maxKeyLength {
		return store.NewErrInvalidKey(providerName, key, "key too long")
	}
	if strings.ContainsRune(key, '\n') {
		return store.NewErrInvalidKey(providerName, key, "key contains a newline")
	}
	return nil
}

// Get reads the file for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	stored, value, err := readEntry(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	// Hash collision or a foreign file.
	if stored != key {
		return nil, false, nil
	}
	return value, true, nil
}

// Set writes key and value to a temp file and renames it into place.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	fn := s.path(key)
	if err := s.ensureDir(filepath.Dir(fn)); err != nil {
		return mapWriteErr(err)
	}

	buf := make([]byte, 0, len(key)+1+len(value))
	buf = append(buf, key...)
	buf = append(buf, '\n')
	buf = append(buf, value...)

	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		_ = os.Remove(tmp)
		return mapWriteErr(err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		rmErr := os.Remove(tmp)
		return errors.Join(fmt.Errorf("localfs: rename: %w", err), rmErr)
	}
	return nil
}

// Delete removes the file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localfs: remove: %w", err)
	}
	return nil
}

// Scan walks the directory and calls fn for every entry whose key has the
// given prefix. Unreadable files are skipped.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != fileExt {
			return nil
		}
		key, value, err := readEntry(path)
		if err != nil || !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(key, value)
	})
}

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error {
	return nil
}

func (s *Store) ensureDir(dir string) error {
	s.subdirsMu.RLock()
	made := s.subdirsMade[dir]
	s.subdirsMu.RUnlock()
	if made {
		return nil
	}

	s.subdirsMu.Lock()
	defer s.subdirsMu.Unlock()
	if s.subdirsMade[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	s.subdirsMade[dir] = true
	return nil
}

func readEntry(path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", nil, fmt.Errorf("localfs: %s has no key header", filepath.Base(path))
	}
	return string(data[:i]), data[i+1:], nil
}

func mapWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return store.NewErrStorageFull(providerName, err)
	}
	return fmt.Errorf("localfs: write: %w", err)
}

var _ store.Provider = (*Store)(nil)
