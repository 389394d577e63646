//go:build integration

package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dattas/internal/names/models"
	"dattas/internal/origin"
	id "dattas/pkg/domain"
	audit "dattas/pkg/platform/audit"
	"dattas/pkg/testutil/containers"
)

func TestRedisBackendSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(ctx))
	vars := map[string]string{
		"STORAGE_BACKEND": "redis",
		"REDIS_URL":       rc.URL,
		"LEDGER_GENESIS":  aliceID + "=100",
	}
	alice, err := id.ParseAccountID(aliceID)
	require.NoError(t, err)

	first := build(t, vars)
	_, err = first.Service.SetName(ctx, origin.Signed(alice), models.Name("alice"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := build(t, vars)
	check, err := second.Service.CheckDeposit(ctx, alice)
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	assert.Equal(t, id.Balance(10), check.Recorded)
	assert.Equal(t, id.Balance(10), check.Reserved)

	acc, err := second.Service.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(90), acc.Free, "genesis must not be credited again")

	deposit, err := second.Service.ClearName(ctx, origin.Signed(alice))
	require.NoError(t, err)
	assert.Equal(t, id.Balance(10), deposit)
	acc, err = second.Service.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(100), acc.Free)
	assert.Zero(t, acc.Reserved)

	events, err := second.Events.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventNameSet, events[0].Action)
	assert.Equal(t, audit.EventNameCleared, events[1].Action)
}

func TestRedisBackendSlashSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(ctx))
	vars := map[string]string{
		"STORAGE_BACKEND": "redis",
		"REDIS_URL":       rc.URL,
		"LEDGER_GENESIS":  aliceID + "=100",
		"SLASH_SINK":      treasuryID,
	}
	alice, _ := id.ParseAccountID(aliceID)
	treasury, _ := id.ParseAccountID(treasuryID)

	first := build(t, vars)
	_, err := first.Service.SetName(ctx, origin.Signed(alice), models.Name("alice"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := build(t, vars)
	deposit, err := second.Service.KillName(ctx, origin.Root(), aliceID)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(10), deposit)

	acc, err := second.Service.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(90), acc.Free)
	assert.Zero(t, acc.Reserved)
	credited, err := second.Service.Balance(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(10), credited.Free)
}

// concurrentSetNames names alice from n goroutines at once and returns the
// errors in call order.
func concurrentSetNames(ctx context.Context, a *App, alice id.AccountID, n int) []error {
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = a.Service.SetName(ctx, origin.Signed(alice), models.Name(fmt.Sprintf("alice-%02d", i)))
		}()
	}
	wg.Wait()
	return errs
}

func assertSingleReservation(t *testing.T, a *App, alice id.AccountID, calls int) {
	t.Helper()
	ctx := context.Background()
	check, err := a.Service.CheckDeposit(ctx, alice)
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	assert.Equal(t, id.Balance(10), check.Reserved)

	events, err := a.Events.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, events, calls)
	assert.Equal(t, audit.EventNameSet, events[0].Action)
	for i, e := range events[1:] {
		assert.Equal(t, audit.EventNameChanged, e.Action)
		assert.Greater(t, e.Seq, events[i].Seq)
	}
}

func TestPostgresConcurrentSetNameReservesOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pg := containers.GetManager().GetPostgres(t)
	require.NoError(t, pg.Truncate(ctx))
	a := build(t, map[string]string{
		"STORAGE_BACKEND":         "postgres",
		"DATABASE_URL":            pg.DSN,
		"DATABASE_MAX_OPEN_CONNS": "16",
		"LEDGER_GENESIS":          aliceID + "=100",
	})
	alice, _ := id.ParseAccountID(aliceID)

	const calls = 8
	for _, err := range concurrentSetNames(ctx, a, alice, calls) {
		require.NoError(t, err)
	}
	assertSingleReservation(t, a, alice, calls)
}

func TestRedisConcurrentSetNameReservesOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(ctx))
	vars := map[string]string{
		"STORAGE_BACKEND": "redis",
		"REDIS_URL":       rc.URL,
		"LEDGER_GENESIS":  aliceID + "=100",
	}
	// Two apps stand in for two server processes sharing one Redis.
	first, second := build(t, vars), build(t, vars)
	alice, _ := id.ParseAccountID(aliceID)

	var wg sync.WaitGroup
	var firstErrs, secondErrs []error
	wg.Add(2)
	go func() { defer wg.Done(); firstErrs = concurrentSetNames(ctx, first, alice, 4) }()
	go func() { defer wg.Done(); secondErrs = concurrentSetNames(ctx, second, alice, 4) }()
	wg.Wait()

	for _, err := range append(firstErrs, secondErrs...) {
		require.NoError(t, err)
	}
	assertSingleReservation(t, first, alice, 8)
}
