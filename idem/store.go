package idem

import (
	"context"
	"time"
)

// Store 幂等记录的存储契约
//
// 实现必须在存储层保证：同一 (key, method, path) 在存活窗口内至多一条记录（Create 冲突返回
// ErrDuplicateKey），Lock/Unlock 为原子的比较并设置。所有修改都会刷新 UpdatedAt，使存活窗口滑动。
// 传入的 *Record 在成功修改后同步更新。
type Store interface {
	// FindAlive 返回匹配三元组的存活记录，不存在时返回 (nil, nil)
	FindAlive(ctx context.Context, key, method, path string) (*Record, error)

	// FindAliveByKey 返回该幂等键最近的存活记录（任意 method/path），不存在时返回 (nil, nil)
	FindAliveByKey(ctx context.Context, key string) (*Record, error)

	// Create 创建记录，params 为规范化后的 JSON
	// 存活记录已存在时返回 ErrDuplicateKey；离开窗口的旧记录被标记为已取代，不会删除
	Create(ctx context.Context, key, method, path string, params []byte) (*Record, error)

	// SetResponse 记录响应，nil headers 按 {} 保存
	SetResponse(ctx context.Context, rec *Record, body string, status int, headers Headers) error

	// Lock 设置执行中标记，已锁定时返回 ErrAlreadyLocked，已完成时返回 ErrAlreadyCompleted
	Lock(ctx context.Context, rec *Record) error

	// Unlock 清除执行中标记，未锁定时返回 ErrNotLocked
	Unlock(ctx context.Context, rec *Record) error

	// Release 按 ID 清除遗留的锁，用于执行方崩溃后的人工干预
	// 记录不存在时返回 xerrors.ErrNotFound，未锁定时返回 ErrNotLocked
	Release(ctx context.Context, id uint64) error
}

// clock 存储层共用的时间源与存活窗口
type clock struct {
	now    func() time.Time
	window time.Duration
}

func (c clock) Now() time.Time {
	return c.now().UTC()
}

func (c clock) cutoff(now time.Time) time.Time {
	return aliveCutoff(now, c.window)
}
