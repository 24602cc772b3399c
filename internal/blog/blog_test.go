package blog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idemguard/db"
	"github.com/ceyewan/idemguard/idem"
	"github.com/ceyewan/idemguard/testkit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

type blogFixture struct {
	db     db.DB
	repo   *Repository
	guard  idem.Guard
	router *gin.Engine
}

func newBlogFixture(t *testing.T) *blogFixture {
	t.Helper()
	ctx := context.Background()
	logger := testkit.NewLogger()

	d, err := db.New(testkit.NewSQLiteConnector(t), &db.Config{LogLevel: "warn"}, db.WithLogger(logger))
	require.NoError(t, err)
	repo := NewRepository(d)
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, idem.Migrate(ctx, d))

	guard, err := idem.New(&idem.Config{Driver: idem.DriverDatabase}, idem.WithDB(d), idem.WithLogger(logger))
	require.NoError(t, err)

	r := gin.New()
	r.Use(Recovery(logger))
	Register(r, NewHandler(repo, logger), guard.GinMiddleware())

	return &blogFixture{db: d, repo: repo, guard: guard, router: r}
}

func (f *blogFixture) do(t *testing.T, method, path, key, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idem.DefaultHeaderKey, key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (f *blogFixture) createUser(t *testing.T, name string) User {
	t.Helper()
	w, env := f.do(t, http.MethodPost, "/users", testkit.NewKey(), `{"user":{"name":"`+name+`"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var user User
	require.NoError(t, json.Unmarshal(env.Data, &user))
	return user
}

func (f *blogFixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.DB(context.Background()).Model(model).Count(&n).Error)
	return n
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func errorString(t *testing.T, env envelope) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(env.Error, &s))
	return s
}

func errorFields(t *testing.T, env envelope) map[string][]string {
	t.Helper()
	var fields map[string][]string
	require.NoError(t, json.Unmarshal(env.Error, &fields))
	return fields
}

// ========================================
// Users
// ========================================

func TestCreateUser_ReplaysWithSameKey(t *testing.T) {
	f := newBlogFixture(t)
	key := testkit.NewKey()
	body := `{"user":{"name":"John Doe"}}`

	first, firstEnv := f.do(t, http.MethodPost, "/users", key, body)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(idem.ReplayedHeader))

	second, secondEnv := f.do(t, http.MethodPost, "/users", key, body)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idem.ReplayedHeader))
	assert.JSONEq(t, string(firstEnv.Data), string(secondEnv.Data))
	assert.Equal(t, int64(1), f.count(t, &User{}))
}

func TestCreateUser_GuardErrors(t *testing.T) {
	f := newBlogFixture(t)
	key := testkit.NewKey()
	f.do(t, http.MethodPost, "/users", key, `{"user":{"name":"John Doe"}}`)

	tests := []struct {
		name    string
		key     string
		body    string
		status  int
		message string
	}{
		{"missing key", "", `{"user":{"name":"Jane"}}`, http.StatusBadRequest, idem.ErrInvalidKey.Message()},
		{"invalid key", "not-a-uuid", `{"user":{"name":"Jane"}}`, http.StatusBadRequest, idem.ErrInvalidKey.Message()},
		{"different params", key, `{"user":{"name":"Jane"}}`, http.StatusUnprocessableEntity, idem.ErrRequestMismatch.Message()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := f.do(t, http.MethodPost, "/users", tt.key, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, errorString(t, env))
		})
	}
	assert.Equal(t, int64(1), f.count(t, &User{}))
}

func TestCreateUser_Validation(t *testing.T) {
	f := newBlogFixture(t)
	key := testkit.NewKey()

	w, env := f.do(t, http.MethodPost, "/users", key, `{"user":{"name":""}}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, map[string][]string{"name": {"can't be blank"}}, errorFields(t, env))

	// 4xx 响应同样被记录
	w, _ = f.do(t, http.MethodPost, "/users", key, `{"user":{"name":""}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "true", w.Header().Get(idem.ReplayedHeader))
	assert.Equal(t, int64(0), f.count(t, &User{}))
}

func TestCreateUser_MissingParam(t *testing.T) {
	f := newBlogFixture(t)

	w, env := f.do(t, http.MethodPost, "/users", testkit.NewKey(), `{"name":"John"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "param is missing or the value is empty: user", errorString(t, env))
}

func TestGetUser(t *testing.T) {
	f := newBlogFixture(t)
	user := f.createUser(t, "John Doe")

	w, env := f.do(t, http.MethodGet, "/users/"+itoa(user.ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got User
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "John Doe", got.Name)

	for _, path := range []string{"/users/9999", "/users/abc"} {
		w, env = f.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "User not found", errorString(t, env))
	}
}

func TestUpdateUser(t *testing.T) {
	f := newBlogFixture(t)
	user := f.createUser(t, "John Doe")
	path := "/users/" + itoa(user.ID)

	for _, method := range []string{http.MethodPatch, http.MethodPut} {
		w, env := f.do(t, method, path, "", `{"user":{"name":"Jane `+method+`"}}`)
		require.Equal(t, http.StatusOK, w.Code)
		var got User
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "Jane "+method, got.Name)
	}

	w, env := f.do(t, http.MethodPatch, path, "", `{"user":{"name":""}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, map[string][]string{"name": {"can't be blank"}}, errorFields(t, env))

	w, env = f.do(t, http.MethodPatch, "/users/9999", "", `{"user":{"name":"Jane"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User not found", errorString(t, env))
}

func TestDeleteUser_RemovesPosts(t *testing.T) {
	f := newBlogFixture(t)
	user := f.createUser(t, "John Doe")
	f.createPost(t, user.ID, "Hello")
	f.createPost(t, user.ID, "World")
	require.Equal(t, int64(2), f.count(t, &Post{}))

	w, env := f.do(t, http.MethodDelete, "/users/"+itoa(user.ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var msg string
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "User with id "+itoa(user.ID)+" has been deleted", msg)
	assert.Equal(t, int64(0), f.count(t, &User{}))
	assert.Equal(t, int64(0), f.count(t, &Post{}))

	w, env = f.do(t, http.MethodDelete, "/users/"+itoa(user.ID), "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User not found", errorString(t, env))
}

// ========================================
// Posts
// ========================================

func (f *blogFixture) createPost(t *testing.T, userID uint64, title string) Post {
	t.Helper()
	body := `{"post":{"title":"` + title + `","content":"Lorem ipsum"},"user":{"id":` + itoa(userID) + `}}`
	w, env := f.do(t, http.MethodPost, "/posts", testkit.NewKey(), body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var post Post
	require.NoError(t, json.Unmarshal(env.Data, &post))
	return post
}

func TestCreatePost(t *testing.T) {
	f := newBlogFixture(t)
	user := f.createUser(t, "John Doe")
	key := testkit.NewKey()
	body := `{"post":{"title":"Hello","content":"Lorem ipsum"},"user":{"id":` + itoa(user.ID) + `}}`

	w, env := f.do(t, http.MethodPost, "/posts", key, body)
	require.Equal(t, http.StatusCreated, w.Code)
	var post Post
	require.NoError(t, json.Unmarshal(env.Data, &post))
	assert.Equal(t, user.ID, post.UserID)
	assert.Equal(t, "Hello", post.Title)

	w, _ = f.do(t, http.MethodPost, "/posts", key, body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get(idem.ReplayedHeader))
	assert.Equal(t, int64(1), f.count(t, &Post{}))
}

func TestCreatePost_Errors(t *testing.T) {
	f := newBlogFixture(t)
	user := f.createUser(t, "John Doe")
	author := `"user":{"id":` + itoa(user.ID) + `}`

	t.Run("unknown author", func(t *testing.T) {
		w, env := f.do(t, http.MethodPost, "/posts", testkit.NewKey(),
			`{"post":{"title":"Hello","content":"Lorem"},"user":{"id":9999}}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Author not found", errorString(t, env))
	})

	t.Run("invalid fields", func(t *testing.T) {
		title := strings.Repeat("a", 101)
		w, env := f.do(t, http.MethodPost, "/posts", testkit.NewKey(),
			`{"post":{"title":"`+title+`","content":""},`+author+`}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, map[string][]string{
			"title":   {"is too long (maximum is 100 characters)"},
			"content": {"can't be blank"},
		}, errorFields(t, env))
	})

	t.Run("missing post", func(t *testing.T) {
		w, env := f.do(t, http.MethodPost, "/posts", testkit.NewKey(), `{`+author+`}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "param is missing or the value is empty: post", errorString(t, env))
	})

	assert.Equal(t, int64(0), f.count(t, &Post{}))
}

func TestPostLifecycle(t *testing.T) {
	f := newBlogFixture(t)
	user := f.createUser(t, "John Doe")
	post := f.createPost(t, user.ID, "Hello")
	path := "/posts/" + itoa(post.ID)

	w, env := f.do(t, http.MethodPatch, path, "", `{"post":{"content":"Updated"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var got Post
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "Updated", got.Content)

	w, env = f.do(t, http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Updated", got.Content)

	w, env = f.do(t, http.MethodDelete, path, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var msg string
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "Post with id "+itoa(post.ID)+" has been deleted", msg)

	w, env = f.do(t, http.MethodGet, path, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Post not found", errorString(t, env))
}

func TestRecovery(t *testing.T) {
	f := newBlogFixture(t)
	f.router.GET("/boom", func(*gin.Context) { panic("boom") })

	w, env := f.do(t, http.MethodGet, "/boom", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", errorString(t, env))
}
