package idem

import (
	"context"
	"sync"

	"gorm.io/datatypes"

	"github.com/ceyewan/idemguard/xerrors"
)

// memoryStore 进程内存储实现，互斥锁保证原子性，仅适用于单机与测试
type memoryStore struct {
	mu      sync.Mutex
	clock   clock
	records []*Record
	seq     uint64
}

func newMemoryStore(c clock) *memoryStore {
	return &memoryStore{clock: c}
}

// current 返回三元组当前未被取代的记录，调用方需持有锁
func (s *memoryStore) current(key, method, path string) *Record {
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.SupersededAt == nil && r.Key == key && r.RequestMethod == method && r.RequestPath == path {
			return r
		}
	}
	return nil
}

func (s *memoryStore) byID(id uint64) *Record {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *memoryStore) FindAlive(ctx context.Context, key, method, path string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current(key, method, path)
	if r == nil || !r.AliveAt(s.clock.Now(), s.clock.window) {
		return nil, nil
	}
	return r.clone(), nil
}

func (s *memoryStore) FindAliveByKey(ctx context.Context, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var latest *Record
	for _, r := range s.records {
		if r.Key != key || r.SupersededAt != nil || !r.AliveAt(now, s.clock.window) {
			continue
		}
		if latest == nil || !r.UpdatedAt.Before(latest.UpdatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.clone(), nil
}

func (s *memoryStore) Create(ctx context.Context, key, method, path string, params []byte) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if r := s.current(key, method, path); r != nil {
		if r.AliveAt(now, s.clock.window) {
			return nil, ErrDuplicateKey
		}
		superseded := now
		r.SupersededAt = &superseded
	}

	s.seq++
	rec := &Record{
		ID:              s.seq,
		Key:             key,
		RequestMethod:   method,
		RequestPath:     path,
		RequestParams:   append(datatypes.JSON(nil), params...),
		ResponseHeaders: datatypes.NewJSONType(Headers{}),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.records = append(s.records, rec)
	return rec.clone(), nil
}

func (s *memoryStore) SetResponse(ctx context.Context, rec *Record, body string, status int, headers Headers) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.byID(rec.ID)
	if stored == nil {
		return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", rec.ID)
	}
	now := s.clock.Now()
	stored.ResponseBody = body
	stored.ResponseStatus = status
	stored.ResponseHeaders = datatypes.NewJSONType(normalizeHeaders(headers))
	stored.UpdatedAt = now
	*rec = *stored.clone()
	return nil
}

func (s *memoryStore) Lock(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.byID(rec.ID)
	if stored == nil {
		return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", rec.ID)
	}
	if stored.LockedAt != nil {
		return ErrAlreadyLocked
	}
	if stored.Completed() {
		return ErrAlreadyCompleted
	}
	now := s.clock.Now()
	stored.LockedAt = &now
	stored.UpdatedAt = now
	*rec = *stored.clone()
	return nil
}

func (s *memoryStore) Unlock(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.unlock(rec.ID)
	if err != nil {
		return err
	}
	*rec = *stored.clone()
	return nil
}

func (s *memoryStore) unlock(id uint64) (*Record, error) {
	stored := s.byID(id)
	if stored == nil {
		return nil, xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", id)
	}
	if stored.LockedAt == nil {
		return nil, ErrNotLocked
	}
	stored.LockedAt = nil
	stored.UpdatedAt = s.clock.Now()
	return stored, nil
}

func (s *memoryStore) Release(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.unlock(id)
	return err
}

// count 返回记录总数（含已取代），供测试断言
func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
