package testkit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ceyewan/idemguard/connector"
)

// NewPostgreSQLContainerConfig 使用 testcontainers 启动 PostgreSQL 容器并返回配置
// 没有可用的容器运行时时跳过测试，生命周期由 t.Cleanup 管理
func NewPostgreSQLContainerConfig(t *testing.T) *connector.PostgreSQLConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgresql container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("idemguard_db"),
		postgres.WithUsername("idemguard_user"),
		postgres.WithPassword("idemguard_password"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	port, err := strconv.Atoi(mappedPort.Port())
	require.NoError(t, err)

	return &connector.PostgreSQLConfig{
		Name:            "testcontainer-postgresql",
		Host:            host,
		Port:            port,
		Username:        "idemguard_user",
		Password:        "idemguard_password",
		Database:        "idemguard_db",
		SSLMode:         "disable",
		MaxIdleConns:    2,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// NewPostgreSQLConnector 获取 PostgreSQL 连接器（基于 testcontainers）
func NewPostgreSQLConnector(t *testing.T) connector.DatabaseConnector {
	t.Helper()
	conn, err := connector.NewPostgreSQL(NewPostgreSQLContainerConfig(t), connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create postgresql connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to postgresql")

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
