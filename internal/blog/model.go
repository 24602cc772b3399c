// Package blog 是受幂等保护的示例业务：用户与文章的增删改查。
//
// HTTP 路由由 Register 挂载，创建类接口 (POST /users、POST /posts) 经过 idem 中间件；
// gRPC 侧提供 blog.v1.Users/Create，使用 structpb.Struct 作为请求与响应。
// 所有响应使用 {"data": ..., "error": ...} 信封。
package blog

import "time"

// User 用户
type User struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Post 文章，属于一个用户；删除用户时一并删除其文章
type Post struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:100;not null" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	UserID    uint64    `gorm:"not null;index" json:"user_id"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Models 返回需要迁移的模型
func Models() []any {
	return []any{&User{}, &Post{}}
}
