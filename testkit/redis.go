package testkit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idemguard/connector"
)

// NewMiniRedis 启动一个进程内 miniredis 并返回已连接的连接器
// miniredis 支持 Lua 脚本，可覆盖 Redis 存储的全部路径
func NewMiniRedis(t *testing.T) (*miniredis.Miniredis, connector.RedisConnector) {
	t.Helper()
	mr := miniredis.RunT(t)

	conn, err := connector.NewRedis(&connector.RedisConfig{
		Name: "test-miniredis",
		Addr: mr.Addr(),
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create redis connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to miniredis")

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return mr, conn
}
