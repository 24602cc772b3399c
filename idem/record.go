package idem

import (
	"maps"
	"time"

	"gorm.io/datatypes"
)

// Headers 缓存的响应头，仅保存单值
type Headers map[string]string

// Record 一次幂等请求的持久化记录
//
// 同一 (Key, RequestMethod, RequestPath) 三元组在存活窗口内至多一条未被取代的记录。
// 离开窗口的记录不会被删除，新记录创建时将其 SupersededAt 置为当前时间。
type Record struct {
	ID              uint64         `gorm:"primaryKey"`
	Key             string         `gorm:"column:key;size:36;not null;index:idx_idempotent_requests_key"`
	RequestMethod   string         `gorm:"size:10;not null"`
	RequestPath     string         `gorm:"size:255;not null"`
	RequestParams   datatypes.JSON `gorm:"not null"`
	LockedAt        *time.Time
	ResponseStatus  int                         `gorm:"column:response_code;not null;default:0"`
	ResponseBody    string                      `gorm:"type:text;not null;default:''"`
	ResponseHeaders datatypes.JSONType[Headers] `gorm:"not null"`
	SupersededAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index"`
}

// TableName 表名
func (Record) TableName() string {
	return "idempotent_requests"
}

// Locked 记录是否处于执行中
func (r *Record) Locked() bool {
	return r.LockedAt != nil
}

// Completed 响应是否可用：body 非空且状态码非 0，响应头可为空
func (r *Record) Completed() bool {
	return r.ResponseBody != "" && r.ResponseStatus != 0
}

// AliveAt 记录在 now 时刻是否仍在存活窗口内，恰好 window 时仍视为存活
func (r *Record) AliveAt(now time.Time, window time.Duration) bool {
	return !r.UpdatedAt.Before(aliveCutoff(now, window))
}

// Headers 返回响应头，缺失时为空 map
func (r *Record) Headers() Headers {
	h := r.ResponseHeaders.Data()
	if h == nil {
		return Headers{}
	}
	return h
}

func (r *Record) clone() *Record {
	c := *r
	c.RequestParams = append(datatypes.JSON(nil), r.RequestParams...)
	if r.LockedAt != nil {
		t := *r.LockedAt
		c.LockedAt = &t
	}
	if r.SupersededAt != nil {
		t := *r.SupersededAt
		c.SupersededAt = &t
	}
	c.ResponseHeaders = datatypes.NewJSONType(maps.Clone(r.Headers()))
	return &c
}

// aliveCutoff 存活窗口的下界，updated_at 不早于它的记录为存活
func aliveCutoff(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}

func normalizeHeaders(h Headers) Headers {
	if h == nil {
		return Headers{}
	}
	return maps.Clone(h)
}
