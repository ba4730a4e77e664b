//go:build integration

package main

import (
	"testing"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_RetryFromStores(t *testing.T) {
	t.Chdir(t.TempDir())

	redisAddr := testutil.StartRedis(t).Options().Addr
	pgURL := testutil.StartPostgres(t)
	backends := []string{"--redis-url", redisAddr, "--postgres-url", pgURL}

	mock := testutil.NewMockBeacon("")
	defer mock.Close()
	mock.SetResponse(3, testutil.NewNotFoundResponse())
	mock.SetResponse(4, testutil.NewNotFoundResponse())

	_, err := execute(t, append(fetchArgs(mock, "1-5"), backends...)...)
	require.NoError(t, err)

	out, err := execute(t, "queue", "list", "--redis-url", redisAddr)
	require.NoError(t, err)
	assert.Contains(t, out, "LAST ERROR")
	assert.Contains(t, out, "\n3 ")
	assert.Contains(t, out, "\n4 ")

	// Give up on 4; it stays failed in postgres only
	_, err = execute(t, "queue", "drop", "4", "--redis-url", redisAddr)
	require.NoError(t, err)

	out, err = execute(t, "queue", "list", "--redis-url", redisAddr)
	require.NoError(t, err)
	assert.NotContains(t, out, "\n4 ")

	mock.SetResponse(3, testutil.NewJSONResponse(string(testutil.DefaultDuties(3))))
	mock.SetResponse(4, testutil.NewJSONResponse(string(testutil.DefaultDuties(4))))

	_, err = execute(t, append(fetchArgs(mock, "--retry-db", "-o", "retry.csv"), backends...)...)
	require.NoError(t, err)
	assert.Len(t, readRecords(t, "retry.csv"), 2*testutil.SlotsPerEpoch)

	_, err = execute(t, "export", "1-5", "--postgres-url", pgURL)
	require.NoError(t, err)
	assert.Len(t, readRecords(t, "proposer_duties_1_to_5.csv"), 5*testutil.SlotsPerEpoch)

	// Another network shares the database but not the rows
	_, err = execute(t, "export", "1-5", "-o", "holesky.csv", "--postgres-url", pgURL, "--network", "holesky")
	require.NoError(t, err)
	assert.Empty(t, readRecords(t, "holesky.csv"))
}
