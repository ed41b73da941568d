// Package store pairs the in-memory state with the append-only log. Every
// mutation is appended to the log before it is applied, so a failed append
// leaves the in-memory state untouched.
package store

import (
	"errors"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/mauri870/aofkv/internal/aof"
	"github.com/mauri870/aofkv/internal/kvstore"
	"github.com/mauri870/aofkv/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrInvalidKey      = errors.New("invalid key: must be non-empty and contain no whitespace")
	ErrInvalidValue    = errors.New("invalid value: must not contain line breaks")
	ErrInvalidEncoding = errors.New("invalid UTF-8 sequence")
)

// Appender durably records a log entry.
type Appender interface {
	Append(aof.Entry) error
}

// Store is the durable key-value store handed to the API servers.
type Store struct {
	// mu serializes append+apply so the log order matches the order in
	// which mutations reach the map. It never guards network I/O.
	mu      sync.Mutex
	kv      *kvstore.Memory
	log     Appender
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New returns a store applying mutations to kv after appending them to log.
func New(kv *kvstore.Memory, log Appender, m *metrics.Metrics, logger *zap.Logger) *Store {
	return &Store{kv: kv, log: log, metrics: m, logger: logger}
}

// Get returns the value for the given key.
func (s *Store) Get(key string) (string, error) {
	v, ok := s.kv.Get(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Set sets the value for the given key. It returns only after the mutation
// has been appended to the log.
func (s *Store) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	_, err := s.commit(aof.Set(key, value))
	return err
}

// Delete removes the given key. Removing an absent key is still logged and
// succeeds.
func (s *Store) Delete(key string) error {
	_, err := s.Remove(key)
	return err
}

// Remove is Delete that also reports whether the key was present when the
// deletion was applied.
func (s *Store) Remove(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return s.commit(aof.Delete(key))
}

// commit appends e and then applies it. existed reports whether e.Key was in
// the map just before the apply.
func (s *Store) commit(e aof.Entry) (existed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Append(e); err != nil {
		s.metrics.AppendFailed()
		s.logger.Error("failed to append to log, mutation rejected",
			zap.Stringer("op", e.Op), zap.String("key", e.Key), zap.Error(err))
		return false, err
	}

	_, existed = s.kv.Get(e.Key)
	switch e.Op {
	case aof.OpSet:
		s.kv.Set(e.Key, e.Value)
	case aof.OpDelete:
		s.kv.Delete(e.Key)
	}

	s.metrics.Mutation(e.Op.String(), s.kv.Len())
	s.logger.Debug("mutation committed", zap.Stringer("op", e.Op), zap.String("key", e.Key))
	return existed, nil
}

func validateKey(key string) error {
	if !utf8.ValidString(key) {
		return ErrInvalidEncoding
	}
	if key == "" || strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return ErrInvalidKey
	}
	return nil
}

func validateValue(value string) error {
	if !utf8.ValidString(value) {
		return ErrInvalidEncoding
	}
	if strings.ContainsAny(value, "\r\n") {
		return ErrInvalidValue
	}
	return nil
}

// IsClientError reports whether err was caused by bad client input rather
// than by the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrInvalidEncoding)
}
