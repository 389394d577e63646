package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dattas/internal/ledger"
	"dattas/internal/names/models"
	"dattas/internal/origin"
	"dattas/internal/platform/config"
	id "dattas/pkg/domain"
)

const (
	aliceID    = "11111111-1111-1111-1111-111111111111"
	treasuryID = "22222222-2222-2222-2222-222222222222"
)

func build(t *testing.T, vars map[string]string) *App {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	a, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuildMemoryBackend(t *testing.T) {
	ctx := context.Background()
	a := build(t, map[string]string{
		"LEDGER_GENESIS":        aliceID + "=100",
		"SLASH_SINK":            treasuryID,
		"NAMES_RESERVATION_FEE": "25",
	})
	alice, err := id.ParseAccountID(aliceID)
	require.NoError(t, err)

	acc, err := a.Service.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(100), acc.Free)

	_, err = a.Service.SetName(ctx, origin.Signed(alice), models.Name("alice"))
	require.NoError(t, err)
	slashed, err := a.Service.KillName(ctx, origin.Root(), aliceID)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(25), slashed)

	treasury, err := id.ParseAccountID(treasuryID)
	require.NoError(t, err)
	credited, err := a.Ledger.Account(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(25), credited.Free)

	events, err := a.Events.List(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	assert.NoError(t, a.Health(ctx))
}

func TestBuildForceAccount(t *testing.T) {
	ctx := context.Background()
	a := build(t, map[string]string{
		"LEDGER_GENESIS":       aliceID + "=5," + treasuryID + "=1",
		"FORCE_ORIGIN_ACCOUNT": treasuryID,
	})
	forcer, err := id.ParseAccountID(treasuryID)
	require.NoError(t, err)

	require.NoError(t, a.Service.ForceName(ctx, origin.Signed(forcer), aliceID, models.Name("x")))
	alice, _ := id.ParseAccountID(aliceID)
	record, err := a.Service.Query(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.Name("x"), record.Name)
}

func TestEndowMissingSkipsKnownAccounts(t *testing.T) {
	ctx := context.Background()
	a := build(t, map[string]string{"LEDGER_GENESIS": aliceID + "=100"})
	alice, _ := id.ParseAccountID(aliceID)

	require.NoError(t, endowMissing(ctx, a.Ledger, []ledger.Allocation{{Account: alice, Amount: 50}}))
	acc, err := a.Ledger.Account(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, id.Balance(100), acc.Free)
}

func TestBuildRejectsBadSettings(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for name, vars := range map[string]map[string]string{
		"genesis":      {"LEDGER_GENESIS": "nope"},
		"slash sink":   {"SLASH_SINK": "nowhere"},
		"force origin": {"FORCE_ORIGIN_ACCOUNT": "nobody"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.LoadFrom(vars)
			require.NoError(t, err)
			_, err = Build(context.Background(), cfg, logger, prometheus.NewRegistry())
			assert.Error(t, err)
		})
	}
}

func TestRelayDisabledWithoutBrokers(t *testing.T) {
	a := build(t, map[string]string{})
	relay, err := a.Relay(context.Background())
	require.NoError(t, err)
	assert.Nil(t, relay)
}
