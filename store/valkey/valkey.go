// valkey.go: Valkey/Redis storage provider
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package valkey persists entries in a Valkey (or Redis) server, so that a
// fleet of processes can share one durable tier.
package valkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/agilira/xanthos/store"
	"github.com/valkey-io/valkey-go"
)

const (
	providerName = "valkey"
	maxKeyLength = 512
	scanCount    = 100
)

// Store implements store.Provider with a valkey-go client.
type Store struct {
	client valkey.Client
}

// New connects to addr ("host:port") and pings the server.
func New(ctx context.Context, addr string) (*Store, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("valkey: create client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey: ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an already configured client.
func NewWithClient(client valkey.Client) *Store {
	return &Store{client: client}
}

func validateKey(key string) error {
	if key == "" {
		return store.NewErrInvalidKey(providerName, key, "empty key")
	}
	if len(key) > maxKeyLength {
		return store.NewErrInvalidKey(providerName, key, "key too long")
	}
	return nil
}

// Get fetches key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, mapErr("get", err)
	}
	return data, true, nil
}

// Set stores key without expiry; ageing is handled by the caller.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	cmd := s.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return mapErr("set", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return mapErr("delete", err)
	}
	return nil
}

// Scan iterates keys under prefix with SCAN MATCH and loads each batch
// with MGET. Keys deleted between the two commands are skipped.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	pat := escapeGlob(prefix) + "*"
	var cur uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		scan, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cur).Match(pat).Count(scanCount).Build()).AsScanEntry()
		if err != nil {
			return mapErr("scan", err)
		}

		if len(scan.Elements) > 0 {
			msgs, err := s.client.Do(ctx, s.client.B().Mget().Key(scan.Elements...).Build()).ToArray()
			if err != nil {
				return mapErr("mget", err)
			}
			for i, msg := range msgs {
				data, err := msg.AsBytes()
				if err != nil {
					continue
				}
				if err := fn(scan.Elements[i], data); err != nil {
					return err
				}
			}
		}

		cur = scan.Cursor
		if cur == 0 {
			return nil
		}
	}
}

// Close releases the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// escapeGlob quotes the MATCH metacharacters so a prefix is taken literally.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func mapErr(op string, err error) error {
	if verr, ok := valkey.IsValkeyErr(err); ok && strings.HasPrefix(verr.Error(), "OOM") {
		return store.NewErrStorageFull(providerName, err)
	}
	return fmt.Errorf("valkey: %s: %w", op, err)
}

var _ store.Provider = (*Store)(nil)
