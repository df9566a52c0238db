package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository: テスト・demo モード用。1つのロックで MySQL 版と同じ原子性を再現する
type MemoryRepository struct {
	mu      sync.Mutex
	records []Record
	active  map[Key]int // key -> records の添字
	tokens  map[string]QRToken
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		active: make(map[Key]int),
		tokens: make(map[string]QRToken),
	}
}

func (m *MemoryRepository) GetActive(ctx context.Context, key Key) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.active[key]
	if !ok {
		return nil, ErrNotFound("attendance record not found")
	}
	rec := m.records[i]
	return &rec, nil
}

func (m *MemoryRepository) History(ctx context.Context, key Key) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.Key() == key {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryRepository) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec)
}

func (m *MemoryRepository) insertLocked(rec Record) error {
	if _, ok := m.active[rec.Key()]; ok {
		return ErrConflict("attendance already recorded for " + rec.Key().String())
	}
	rec.Superseded = false
	rec.SupersededBy = ""
	m.records = append(m.records, rec)
	m.active[rec.Key()] = len(m.records) - 1
	return nil
}

// checkSupersede: 書き込み前の検証だけを行う（途中で失敗しても何も変えない）
func (m *MemoryRepository) checkSupersede(oldID string, rec Record) (int, error) {
	i, ok := m.active[rec.Key()]
	if !ok || m.records[i].ID != oldID {
		return 0, ErrConflict("attendance record was changed by another writer")
	}
	return i, nil
}

func (m *MemoryRepository) Supersede(ctx context.Context, oldID string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.checkSupersede(oldID, rec)
	if err != nil {
		return err
	}
	m.applySupersedeLocked(i, rec)
	return nil
}

func (m *MemoryRepository) applySupersedeLocked(i int, rec Record) {
	m.records[i].Superseded = true
	m.records[i].SupersededBy = rec.ID
	delete(m.active, rec.Key())
	// 直前で active を外しているので失敗しない
	_ = m.insertLocked(rec)
}

func (m *MemoryRepository) ListActive(ctx context.Context, f RecordFilter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, i := range m.active {
		if r := m.records[i]; f.match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Date != out[b].Date {
			return out[a].Date < out[b].Date
		}
		if !out[a].RecordedAt.Equal(out[b].RecordedAt) {
			return out[a].RecordedAt.Before(out[b].RecordedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (m *MemoryRepository) SaveToken(ctx context.Context, tok QRToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tok.Digest]; ok {
		return ErrConflict("qr token already exists")
	}
	tok.Token = ""
	m.tokens[tok.Digest] = tok
	return nil
}

func (m *MemoryRepository) GetToken(ctx context.Context, digest string) (*QRToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[digest]
	if !ok {
		return nil, ErrTokenUnknown("qr token not found")
	}
	return &tok, nil
}

func (m *MemoryRepository) ClaimToken(ctx context.Context, digest, studentID string, at time.Time, rec Record, supersedes string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[digest]
	if !ok {
		return ErrTokenUnknown("qr token not found")
	}
	if tok.Redeemed() {
		return ErrTokenAlreadyUsed("qr token already redeemed")
	}

	// 記録側を先に検証し、失敗時はトークンも消費しない
	idx := -1
	if supersedes != "" {
		i, err := m.checkSupersede(supersedes, rec)
		if err != nil {
			return err
		}
		idx = i
	} else if _, exists := m.active[rec.Key()]; exists {
		return ErrConflict("attendance already recorded for " + rec.Key().String())
	}

	redeemedAt := at.UTC()
	tok.RedeemedBy = studentID
	tok.RedeemedAt = &redeemedAt
	m.tokens[digest] = tok

	if idx >= 0 {
		m.applySupersedeLocked(idx, rec)
		return nil
	}
	return m.insertLocked(rec)
}

// Len: テスト用。superseded を含む全行数
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
