package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/types"
)

var _ Ledger = (*Memory)(nil)

type memoryEntry struct {
	token     string
	committed bool
	record    types.RedemptionRecord
}

// Memory is a process-local ledger. The zero value is not usable; call NewMemory.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	trail   []types.RedemptionRecord

	auditMu sync.Mutex
	audit   io.Writer
	closer  io.Closer
	logger  logger.Logger
}

type MemoryOption func(*Memory)

// WithAuditWriter appends every committed record to w as one JSON line.
func WithAuditWriter(w io.Writer) MemoryOption {
	return func(m *Memory) {
		m.audit = w
	}
}

func WithMemoryLogger(l logger.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		logger:  logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewMemoryWithAuditFile opens path in append mode and uses it as the audit trail.
func NewMemoryWithAuditFile(path string, opts ...MemoryOption) (*Memory, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	m := NewMemory(append(opts, WithAuditWriter(f))...)
	m.closer = f
	return m, nil
}

func (m *Memory) TryReserve(_ context.Context, txRef string) (Reservation, bool, error) {
	key, err := normalize(txRef)
	if err != nil {
		return Reservation{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; exists {
		return Reservation{}, false, nil
	}
	res := newReservation(key)
	m.entries[key] = &memoryEntry{token: res.Token}
	return res, true, nil
}

func (m *Memory) Commit(_ context.Context, res Reservation, record types.RedemptionRecord) error {
	key, err := commitKey(res, record)
	if err != nil {
		return err
	}
	record.TxRef = key

	m.mu.Lock()
	e, exists := m.entries[key]
	switch {
	case !exists || e.token != res.Token:
		m.mu.Unlock()
		return ErrNotReserved
	case e.committed:
		m.mu.Unlock()
		if e.record.SameClaim(record) {
			return nil
		}
		return ErrConflictingCommit
	}
	e.committed = true
	e.record = record
	m.trail = append(m.trail, record)
	m.mu.Unlock()

	m.writeAudit(record)
	return nil
}

func (m *Memory) Release(_ context.Context, res Reservation) error {
	key, err := normalize(res.TxRef)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.entries[key]; exists && !e.committed && e.token == res.Token {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Lookup(_ context.Context, txRef string) (*types.RedemptionRecord, error) {
	key, err := normalize(txRef)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	if !exists || !e.committed {
		return nil, ErrRecordNotFound
	}
	rec := e.record
	return &rec, nil
}

// Records returns the committed records in commit order.
func (m *Memory) Records() []types.RedemptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.RedemptionRecord, len(m.trail))
	copy(out, m.trail)
	return out
}

func (m *Memory) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// writeAudit never fails the commit; the in-memory record is authoritative.
func (m *Memory) writeAudit(record types.RedemptionRecord) {
	if m.audit == nil {
		return
	}
	line, err := json.Marshal(record)
	if err != nil {
		m.logger.Error("failed to encode audit record", map[string]any{"tx_hash": record.TxRef, "err": err})
		return
	}

	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	if _, err := m.audit.Write(append(line, '\n')); err != nil {
		m.logger.Error("failed to append audit record", map[string]any{"tx_hash": record.TxRef, "err": err})
	}
}
