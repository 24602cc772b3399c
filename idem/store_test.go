package idem

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/db"
	"github.com/ceyewan/idemguard/testkit"
	"github.com/ceyewan/idemguard/xerrors"
)

type storeFactory func(t *testing.T, clk *testkit.Clock) Store

func newTestDB(t *testing.T, conn connector.DatabaseConnector) db.DB {
	t.Helper()
	d, err := db.New(conn, &db.Config{LogLevel: "warn"}, db.WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), d))
	return d
}

func testClock(clk *testkit.Clock) clock {
	return clock{now: clk.Now, window: DefaultAliveWindow}
}

func memoryFactory(_ *testing.T, clk *testkit.Clock) Store {
	return newMemoryStore(testClock(clk))
}

func sqliteFactory(t *testing.T, clk *testkit.Clock) Store {
	return newGormStore(newTestDB(t, testkit.NewSQLiteConnector(t)), testClock(clk))
}

func redisFactory(t *testing.T, clk *testkit.Clock) Store {
	_, conn := testkit.NewMiniRedis(t)
	return newRedisStore(conn, "idem:"+testkit.NewID()+":", testClock(clk))
}

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": memoryFactory,
		"sqlite": sqliteFactory,
		"redis":  redisFactory,
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			runStoreContract(t, factory)
		})
	}
}

func TestGormStorePostgres(t *testing.T) {
	conn := testkit.NewPostgreSQLConnector(t)
	d := newTestDB(t, conn)
	runStoreContract(t, func(t *testing.T, clk *testkit.Clock) Store {
		return newGormStore(d, testClock(clk))
	})
}

func runStoreContract(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	params := []byte(`{"user":{"name":"John Doe"}}`)

	t.Run("find none", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		rec, err := s.FindAlive(ctx, testkit.NewKey(), "POST", "/users")
		require.NoError(t, err)
		assert.Nil(t, rec)

		rec, err = s.FindAliveByKey(ctx, testkit.NewKey())
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("create and find", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		key := testkit.NewKey()

		created, err := s.Create(ctx, key, "POST", "/users", params)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.False(t, created.Locked())
		assert.False(t, created.Completed())

		found, err := s.FindAlive(ctx, key, "POST", "/users")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, key, found.Key)
		assert.True(t, found.Matches("POST", "/users", params))
		assert.Equal(t, Headers{}, found.Headers())
		assert.Equal(t, 0, found.ResponseStatus)
		assert.Equal(t, "", found.ResponseBody)

		other, err := s.FindAlive(ctx, key, "POST", "/posts")
		require.NoError(t, err)
		assert.Nil(t, other)
	})

	t.Run("duplicate alive triple", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		key := testkit.NewKey()

		_, err := s.Create(ctx, key, "POST", "/users", params)
		require.NoError(t, err)
		_, err = s.Create(ctx, key, "POST", "/users", params)
		assert.ErrorIs(t, err, ErrDuplicateKey)

		_, err = s.Create(ctx, key, "POST", "/posts", params)
		assert.NoError(t, err, "uniqueness is scoped to the whole triple")
	})

	t.Run("lock and unlock", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		rec, err := s.Create(ctx, testkit.NewKey(), "POST", "/users", params)
		require.NoError(t, err)

		require.NoError(t, s.Lock(ctx, rec))
		assert.True(t, rec.Locked())

		stale, err := s.FindAlive(ctx, rec.Key, "POST", "/users")
		require.NoError(t, err)
		assert.True(t, stale.Locked())
		assert.ErrorIs(t, s.Lock(ctx, stale), ErrAlreadyLocked)

		require.NoError(t, s.Unlock(ctx, rec))
		assert.False(t, rec.Locked())
		assert.ErrorIs(t, s.Unlock(ctx, rec), ErrNotLocked)

		found, err := s.FindAlive(ctx, rec.Key, "POST", "/users")
		require.NoError(t, err)
		assert.False(t, found.Locked())
	})

	t.Run("set response", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		rec, err := s.Create(ctx, testkit.NewKey(), "POST", "/users", params)
		require.NoError(t, err)

		require.NoError(t, s.SetResponse(ctx, rec, `{"id":1}`, 201, nil))
		assert.True(t, rec.Completed())

		found, err := s.FindAlive(ctx, rec.Key, "POST", "/users")
		require.NoError(t, err)
		assert.True(t, found.Completed())
		assert.Equal(t, `{"id":1}`, found.ResponseBody)
		assert.Equal(t, 201, found.ResponseStatus)
		assert.Equal(t, Headers{}, found.Headers())

		stale, err := s.FindAlive(ctx, rec.Key, "POST", "/users")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Lock(ctx, stale), ErrAlreadyCompleted)

		require.NoError(t, s.SetResponse(ctx, rec, `{"id":1}`, 201, Headers{"Content-Type": "application/json"}))
		found, err = s.FindAlive(ctx, rec.Key, "POST", "/users")
		require.NoError(t, err)
		assert.Equal(t, Headers{"Content-Type": "application/json"}, found.Headers())
	})

	t.Run("alive window boundary is inclusive", func(t *testing.T) {
		clk := testkit.NewClock(time.Time{})
		s := factory(t, clk)
		key := testkit.NewKey()

		first, err := s.Create(ctx, key, "POST", "/users", params)
		require.NoError(t, err)

		clk.Advance(24 * time.Hour)
		found, err := s.FindAlive(ctx, key, "POST", "/users")
		require.NoError(t, err)
		require.NotNil(t, found, "record exactly 24h old is alive")
		_, err = s.Create(ctx, key, "POST", "/users", params)
		assert.ErrorIs(t, err, ErrDuplicateKey)

		clk.Advance(time.Second)
		found, err = s.FindAlive(ctx, key, "POST", "/users")
		require.NoError(t, err)
		assert.Nil(t, found, "record 24h1s old is dead")
		byKey, err := s.FindAliveByKey(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, byKey)

		second, err := s.Create(ctx, key, "POST", "/users", params)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		found, err = s.FindAlive(ctx, key, "POST", "/users")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, second.ID, found.ID)
	})

	t.Run("mutations slide the window", func(t *testing.T) {
		clk := testkit.NewClock(time.Time{})
		s := factory(t, clk)
		rec, err := s.Create(ctx, testkit.NewKey(), "POST", "/users", params)
		require.NoError(t, err)

		clk.Advance(23 * time.Hour)
		require.NoError(t, s.Lock(ctx, rec))
		clk.Advance(2 * time.Hour)

		found, err := s.FindAlive(ctx, rec.Key, "POST", "/users")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, rec.ID, found.ID)
	})

	t.Run("find by key", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		key := testkit.NewKey()
		rec, err := s.Create(ctx, key, "POST", "/users", params)
		require.NoError(t, err)

		found, err := s.FindAliveByKey(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, rec.ID, found.ID)
		assert.Equal(t, "/users", found.RequestPath)
	})

	t.Run("separators in method and path", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		key := testkit.NewKey()

		a, err := s.Create(ctx, key, "POST", "/a|b:c", params)
		require.NoError(t, err)
		b, err := s.Create(ctx, key, "POST|/a", "b:c", params)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)

		found, err := s.FindAlive(ctx, key, "POST", "/a|b:c")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, a.ID, found.ID)

		found, err = s.FindAlive(ctx, key, "POST|/a", "b:c")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, b.ID, found.ID)
	})

	t.Run("release", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		rec, err := s.Create(ctx, testkit.NewKey(), "POST", "/users", params)
		require.NoError(t, err)
		require.NoError(t, s.Lock(ctx, rec))

		require.NoError(t, s.Release(ctx, rec.ID))
		found, err := s.FindAlive(ctx, rec.Key, "POST", "/users")
		require.NoError(t, err)
		assert.False(t, found.Locked())

		assert.ErrorIs(t, s.Release(ctx, rec.ID), ErrNotLocked)
		assert.ErrorIs(t, s.Release(ctx, rec.ID+1000), xerrors.ErrNotFound)
	})

	t.Run("concurrent create admits one", func(t *testing.T) {
		s := factory(t, testkit.NewClock(time.Time{}))
		key := testkit.NewKey()

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Create(ctx, key, "POST", "/users", params)
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicateKey)
		}
		assert.Equal(t, 1, created)
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	mr, conn := testkit.NewMiniRedis(t)
	clk := testkit.NewClock(time.Time{})
	prefix := "idem:" + testkit.NewID() + ":"
	s := newRedisStore(conn, prefix, testClock(clk))
	key := testkit.NewKey()
	params := []byte(`{"user":{"name":"John Doe"}}`)

	first, err := s.Create(ctx, key, "POST", "/users", params)
	require.NoError(t, err)
	require.NoError(t, s.Lock(ctx, first))

	clk.Advance(25 * time.Hour)
	second, err := s.Create(ctx, key, "POST", "/users", params)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// 脚本访问的键共享同一哈希标签，序列与 ID 索引除外
	tag := prefix + "{" + key + "}:"
	for _, k := range mr.Keys() {
		if k == prefix+"seq" || strings.HasPrefix(k, prefix+"id:") {
			continue
		}
		assert.True(t, strings.HasPrefix(k, tag), "key %q outside the hash tag", k)
	}

	// 被取代的记录仍可通过 ID 人工解锁
	require.NoError(t, s.Release(ctx, first.ID))
	assert.ErrorIs(t, s.Release(ctx, first.ID), ErrNotLocked)

	found, err := s.FindAlive(ctx, key, "POST", "/users")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, second.ID, found.ID)
	assert.False(t, found.Locked())
}
