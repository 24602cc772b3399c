package idem

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ceyewan/idemguard/db"
	"github.com/ceyewan/idemguard/xerrors"
)

// aliveIndexSQL 部分唯一索引：仅约束未被取代的记录，PostgreSQL 与 SQLite 语法一致
const aliveIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotent_requests_alive
ON idempotent_requests ("key", request_method, request_path)
WHERE superseded_at IS NULL`

// Migrate 创建幂等记录表及存活唯一索引
func Migrate(ctx context.Context, database db.DB) error {
	if err := database.AutoMigrate(ctx, &Record{}); err != nil {
		return err
	}
	if err := database.DB(ctx).Exec(aliveIndexSQL).Error; err != nil {
		return xerrors.Wrap(err, "idem: create alive unique index")
	}
	return nil
}

// gormStore 基于 GORM 的存储实现
type gormStore struct {
	db    db.DB
	clock clock
}

func newGormStore(database db.DB, c clock) *gormStore {
	return &gormStore{db: database, clock: c}
}

func (s *gormStore) session(ctx context.Context) *gorm.DB {
	return s.db.DB(ctx).Session(&gorm.Session{NowFunc: s.clock.Now})
}

func triple(key, method, path string) map[string]any {
	return map[string]any{"key": key, "request_method": method, "request_path": path}
}

func (s *gormStore) FindAlive(ctx context.Context, key, method, path string) (*Record, error) {
	var rec Record
	err := s.session(ctx).
		Where(triple(key, method, path)).
		Where("superseded_at IS NULL").
		Where("updated_at >= ?", s.clock.cutoff(s.clock.Now())).
		Order("id DESC").
		Take(&rec).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: find alive record")
	}
	return &rec, nil
}

func (s *gormStore) FindAliveByKey(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.session(ctx).
		Where(map[string]any{"key": key}).
		Where("superseded_at IS NULL").
		Where("updated_at >= ?", s.clock.cutoff(s.clock.Now())).
		Order("updated_at DESC").
		Take(&rec).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: find alive record by key")
	}
	return &rec, nil
}

func (s *gormStore) Create(ctx context.Context, key, method, path string, params []byte) (*Record, error) {
	now := s.clock.Now()
	rec := &Record{
		Key:             key,
		RequestMethod:   method,
		RequestPath:     path,
		RequestParams:   datatypes.JSON(params),
		ResponseHeaders: datatypes.NewJSONType(Headers{}),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		tx = tx.Session(&gorm.Session{NowFunc: s.clock.Now})
		// UpdateColumn 不刷新 updated_at，被取代的记录保留原有时间
		if err := tx.Model(&Record{}).
			Where(triple(key, method, path)).
			Where("superseded_at IS NULL").
			Where("updated_at < ?", s.clock.cutoff(now)).
			UpdateColumn("superseded_at", now).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if db.IsDuplicateKey(err) {
		return nil, ErrDuplicateKey
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: create record")
	}
	return rec, nil
}

func (s *gormStore) SetResponse(ctx context.Context, rec *Record, body string, status int, headers Headers) error {
	now := s.clock.Now()
	headers = normalizeHeaders(headers)
	res := s.session(ctx).Model(&Record{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"response_body":    body,
			"response_code":    status,
			"response_headers": datatypes.NewJSONType(headers),
			"updated_at":       now,
		})
	if res.Error != nil {
		return xerrors.Wrap(res.Error, "idem: set response")
	}
	if res.RowsAffected == 0 {
		return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", rec.ID)
	}
	rec.ResponseBody = body
	rec.ResponseStatus = status
	rec.ResponseHeaders = datatypes.NewJSONType(headers)
	rec.UpdatedAt = now
	return nil
}

func (s *gormStore) Lock(ctx context.Context, rec *Record) error {
	now := s.clock.Now()
	res := s.session(ctx).Model(&Record{}).
		Where("id = ? AND locked_at IS NULL", rec.ID).
		Where("(response_code = 0 OR response_body = '')").
		Updates(map[string]any{"locked_at": now, "updated_at": now})
	if res.Error != nil {
		return xerrors.Wrap(res.Error, "idem: lock record")
	}
	if res.RowsAffected == 0 {
		var cur Record
		if err := s.session(ctx).First(&cur, rec.ID).Error; err != nil {
			if db.IsNotFound(err) {
				return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", rec.ID)
			}
			return xerrors.Wrap(err, "idem: lock record")
		}
		if cur.Completed() {
			return ErrAlreadyCompleted
		}
		return ErrAlreadyLocked
	}
	rec.LockedAt = &now
	rec.UpdatedAt = now
	return nil
}

func (s *gormStore) Unlock(ctx context.Context, rec *Record) error {
	now, err := s.unlock(ctx, rec.ID)
	if err != nil {
		return err
	}
	rec.LockedAt = nil
	rec.UpdatedAt = now
	return nil
}

func (s *gormStore) unlock(ctx context.Context, id uint64) (time.Time, error) {
	now := s.clock.Now()
	res := s.session(ctx).Model(&Record{}).
		Where("id = ? AND locked_at IS NOT NULL", id).
		Updates(map[string]any{"locked_at": nil, "updated_at": now})
	if res.Error != nil {
		return now, xerrors.Wrap(res.Error, "idem: unlock record")
	}
	if res.RowsAffected == 0 {
		return now, ErrNotLocked
	}
	return now, nil
}

func (s *gormStore) Release(ctx context.Context, id uint64) error {
	_, err := s.unlock(ctx, id)
	if !errors.Is(err, ErrNotLocked) {
		return err
	}
	var count int64
	if cerr := s.session(ctx).Model(&Record{}).Where("id = ?", id).Count(&count).Error; cerr != nil {
		return xerrors.Wrap(cerr, "idem: release record")
	}
	if count == 0 {
		return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", id)
	}
	return ErrNotLocked
}
