package blog

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	"github.com/ceyewan/idemguard/cache"
	"github.com/ceyewan/idemguard/db"
	"github.com/ceyewan/idemguard/xerrors"
)

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = xerrors.NewCoded("USER_NOT_FOUND", "User not found")
	// ErrPostNotFound 文章不存在
	ErrPostNotFound = xerrors.NewCoded("POST_NOT_FOUND", "Post not found")
	// ErrAuthorNotFound 创建文章时作者不存在
	ErrAuthorNotFound = xerrors.NewCoded("AUTHOR_NOT_FOUND", "Author not found")
)

// Repository 用户与文章的持久化
//
// GetUser/GetPost 先读缓存，未命中时回源并回填；修改与删除后失效对应的键。
type Repository struct {
	db    db.DB
	cache cache.Cache
}

// RepositoryOption Repository 选项
type RepositoryOption func(*Repository)

// WithCache 为单条读取启用缓存
func WithCache(c cache.Cache) RepositoryOption {
	return func(r *Repository) {
		if c != nil {
			r.cache = c
		}
	}
}

// NewRepository 创建 Repository
func NewRepository(database db.DB, opts ...RepositoryOption) *Repository {
	r := &Repository{db: database, cache: cache.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func userKey(id uint64) string { return "blog:user:" + strconv.FormatUint(id, 10) }
func postKey(id uint64) string { return "blog:post:" + strconv.FormatUint(id, 10) }

// cached 读缓存，未命中时调用 load 并回填；缓存故障只影响命中率
func cached[T any](ctx context.Context, c cache.Cache, key string, load func() (*T, error)) (*T, error) {
	var v T
	if err := c.Get(ctx, key, &v); err == nil {
		return &v, nil
	}
	out, err := load()
	if err != nil {
		return nil, err
	}
	_ = c.Set(ctx, key, out, 0)
	return out, nil
}

// Migrate 创建或更新业务表
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.AutoMigrate(ctx, Models()...)
}

func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	return xerrors.Wrap(r.db.DB(ctx).Create(user).Error, "create user")
}

func (r *Repository) GetUser(ctx context.Context, id uint64) (*User, error) {
	return cached(ctx, r.cache, userKey(id), func() (*User, error) {
		var user User
		if err := r.db.DB(ctx).First(&user, id).Error; err != nil {
			if db.IsNotFound(err) {
				return nil, ErrUserNotFound
			}
			return nil, xerrors.Wrap(err, "get user")
		}
		return &user, nil
	})
}

func (r *Repository) SaveUser(ctx context.Context, user *User) error {
	if err := r.db.DB(ctx).Save(user).Error; err != nil {
		return xerrors.Wrap(err, "save user")
	}
	_ = r.cache.Delete(ctx, userKey(user.ID))
	return nil
}

// DeleteUser 删除用户及其全部文章
func (r *Repository) DeleteUser(ctx context.Context, id uint64) error {
	var postIDs []uint64
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Model(&Post{}).Where("user_id = ?", id).Pluck("id", &postIDs).Error; err != nil {
			return xerrors.Wrap(err, "list user posts")
		}
		if err := tx.Where("user_id = ?", id).Delete(&Post{}).Error; err != nil {
			return xerrors.Wrap(err, "delete user posts")
		}
		res := tx.Delete(&User{}, id)
		if res.Error != nil {
			return xerrors.Wrap(res.Error, "delete user")
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	keys := []string{userKey(id)}
	for _, postID := range postIDs {
		keys = append(keys, postKey(postID))
	}
	_ = r.cache.Delete(ctx, keys...)
	return nil
}

// CreatePost 创建文章，作者不存在时返回 ErrAuthorNotFound
func (r *Repository) CreatePost(ctx context.Context, post *Post) error {
	if _, err := r.GetUser(ctx, post.UserID); err != nil {
		if xerrors.Is(err, ErrUserNotFound) {
			return ErrAuthorNotFound
		}
		return err
	}
	return xerrors.Wrap(r.db.DB(ctx).Create(post).Error, "create post")
}

func (r *Repository) GetPost(ctx context.Context, id uint64) (*Post, error) {
	return cached(ctx, r.cache, postKey(id), func() (*Post, error) {
		var post Post
		if err := r.db.DB(ctx).First(&post, id).Error; err != nil {
			if db.IsNotFound(err) {
				return nil, ErrPostNotFound
			}
			return nil, xerrors.Wrap(err, "get post")
		}
		return &post, nil
	})
}

func (r *Repository) SavePost(ctx context.Context, post *Post) error {
	if err := r.db.DB(ctx).Save(post).Error; err != nil {
		return xerrors.Wrap(err, "save post")
	}
	_ = r.cache.Delete(ctx, postKey(post.ID))
	return nil
}

func (r *Repository) DeletePost(ctx context.Context, id uint64) error {
	res := r.db.DB(ctx).Delete(&Post{}, id)
	if res.Error != nil {
		return xerrors.Wrap(res.Error, "delete post")
	}
	if res.RowsAffected == 0 {
		return ErrPostNotFound
	}
	_ = r.cache.Delete(ctx, postKey(id))
	return nil
}

// CountPosts 用户名下的文章数
func (r *Repository) CountPosts(ctx context.Context, userID uint64) (int64, error) {
	var n int64
	err := r.db.DB(ctx).Model(&Post{}).Where("user_id = ?", userID).Count(&n).Error
	return n, xerrors.Wrap(err, "count posts")
}
