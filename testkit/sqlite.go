package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceyewan/idemguard/connector"
)

// NewSQLiteConfig 返回独立的 SQLite 内存数据库配置
// 每次调用使用不同的库名，测试之间数据互不可见
func NewSQLiteConfig() *connector.SQLiteConfig {
	return &connector.SQLiteConfig{
		Name: "test-sqlite",
		Path: "file:" + NewID() + "?mode=memory&cache=shared",
	}
}

// NewSQLiteConnector 获取已连接的 SQLite 连接器，生命周期由 t.Cleanup 管理
func NewSQLiteConnector(t *testing.T) connector.DatabaseConnector {
	t.Helper()
	return connectDatabase(t, NewSQLiteConfig())
}

// NewPersistentSQLiteConnector 获取基于 t.TempDir() 文件的 SQLite 连接器
func NewPersistentSQLiteConnector(t *testing.T) connector.DatabaseConnector {
	t.Helper()
	return connectDatabase(t, &connector.SQLiteConfig{
		Name: "test-sqlite-file",
		Path: t.TempDir() + "/test.db",
	})
}

func connectDatabase(t *testing.T, cfg *connector.SQLiteConfig) connector.DatabaseConnector {
	t.Helper()
	conn, err := connector.NewSQLite(cfg, connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create sqlite connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to sqlite")

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
