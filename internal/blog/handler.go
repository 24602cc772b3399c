package blog

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

// codeBadRequest 请求体无法解析或缺少顶层参数
const codeBadRequest = "BAD_REQUEST"

// Handler 用户与文章的 HTTP 处理器
type Handler struct {
	repo   *Repository
	logger clog.Logger
}

// NewHandler 创建 Handler
func NewHandler(repo *Repository, logger clog.Logger) *Handler {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Handler{repo: repo, logger: logger.WithNamespace("blog")}
}

type userParams struct {
	Name *string `json:"name"`
}

type postParams struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

type authorParams struct {
	ID uint64 `json:"id"`
}

// ========================================
// Users
// ========================================

func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		User *userParams `json:"user"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.User == nil {
		h.fail(c, missingParam("user"))
		return
	}

	fields := userFields{Name: deref(req.User.Name)}
	if err := validateStruct(fields); err != nil {
		h.fail(c, err)
		return
	}

	user := &User{Name: fields.Name}
	if err := h.repo.CreateUser(c.Request.Context(), user); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, user)
}

func (h *Handler) GetUser(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		h.fail(c, ErrUserNotFound)
		return
	}
	user, err := h.repo.GetUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, user)
}

func (h *Handler) UpdateUser(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		h.fail(c, ErrUserNotFound)
		return
	}
	ctx := c.Request.Context()
	user, err := h.repo.GetUser(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}

	var req struct {
		User *userParams `json:"user"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.User == nil {
		h.fail(c, missingParam("user"))
		return
	}
	if req.User.Name != nil {
		user.Name = *req.User.Name
	}
	if err := validateStruct(userFields{Name: user.Name}); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.repo.SaveUser(ctx, user); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, user)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		h.fail(c, ErrUserNotFound)
		return
	}
	if err := h.repo.DeleteUser(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, fmt.Sprintf("User with id %d has been deleted", id))
}

// ========================================
// Posts
// ========================================

func (h *Handler) CreatePost(c *gin.Context) {
	var req struct {
		Post *postParams   `json:"post"`
		User *authorParams `json:"user"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, missingParam("post"))
		return
	}
	if req.User == nil {
		h.fail(c, missingParam("user"))
		return
	}
	if req.Post == nil {
		h.fail(c, missingParam("post"))
		return
	}

	fields := postFields{Title: deref(req.Post.Title), Content: deref(req.Post.Content)}
	post := &Post{Title: fields.Title, Content: fields.Content, UserID: req.User.ID}
	ctx := c.Request.Context()
	if _, err := h.repo.GetUser(ctx, post.UserID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			err = ErrAuthorNotFound
		}
		h.fail(c, err)
		return
	}
	if err := validateStruct(fields); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.repo.CreatePost(ctx, post); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, post)
}

func (h *Handler) GetPost(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		h.fail(c, ErrPostNotFound)
		return
	}
	post, err := h.repo.GetPost(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, post)
}

func (h *Handler) UpdatePost(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		h.fail(c, ErrPostNotFound)
		return
	}
	ctx := c.Request.Context()
	post, err := h.repo.GetPost(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}

	var req struct {
		Post *postParams `json:"post"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Post == nil {
		h.fail(c, missingParam("post"))
		return
	}
	if req.Post.Title != nil {
		post.Title = *req.Post.Title
	}
	if req.Post.Content != nil {
		post.Content = *req.Post.Content
	}
	if err := validateStruct(postFields{Title: post.Title, Content: post.Content}); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.repo.SavePost(ctx, post); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, post)
}

func (h *Handler) DeletePost(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		h.fail(c, ErrPostNotFound)
		return
	}
	if err := h.repo.DeletePost(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, fmt.Sprintf("Post with id %d has been deleted", id))
}

// ========================================
// 响应信封
// ========================================

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data, "error": nil})
}

// fail 按错误类型渲染信封：字段错误 422，资源不存在 404，参数缺失 400，其余 500
func (h *Handler) fail(c *gin.Context, err error) {
	var fields FieldErrors
	if errors.As(err, &fields) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"data": nil, "error": fields})
		return
	}

	var coded *xerrors.CodedError
	if errors.As(err, &coded) {
		switch {
		case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrPostNotFound), errors.Is(err, ErrAuthorNotFound):
			c.JSON(http.StatusNotFound, gin.H{"data": nil, "error": coded.Message()})
			return
		case coded.Code == codeBadRequest:
			c.JSON(http.StatusBadRequest, gin.H{"data": nil, "error": coded.Message()})
			return
		}
	}

	h.logger.ErrorContext(c.Request.Context(), "request failed",
		clog.String("path", c.FullPath()),
		clog.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"data": nil, "error": "Internal server error"})
}

// Recovery 捕获 handler panic，返回 500 信封
func Recovery(logger clog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = clog.Discard()
	}
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			clog.String("path", c.Request.URL.Path),
			clog.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"data": nil, "error": "Internal server error"})
	})
}

func missingParam(name string) error {
	return xerrors.NewCoded(codeBadRequest, "param is missing or the value is empty: "+name)
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
