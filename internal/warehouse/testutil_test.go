package warehouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestServer starts a ClickHouse container and returns native and
// HTTP DSNs plus a termination function.
func setupTestServer(t *testing.T) (string, string, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	nativePort, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	httpPort, err := container.MappedPort(ctx, "8123")
	require.NoError(t, err)

	nativeDSN := fmt.Sprintf("clickhouse://default:@%s:%s/marketlake_test", host, nativePort.Port())
	httpDSN := fmt.Sprintf("http://default:@%s:%s/marketlake_test", host, httpPort.Port())

	cleanup := func() {
		_ = container.Terminate(ctx)
	}
	return nativeDSN, httpDSN, cleanup
}

// setupTestDB boots a container, creates the test database and applies
// every embedded migration. Returns a connection to the migrated
// database and a cleanup function.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	nativeDSN, _, stop := setupTestServer(t)

	conn, err := Bootstrap(context.Background(), nativeDSN)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		stop()
	}
	return conn, cleanup
}
