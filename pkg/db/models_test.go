package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, ApplyMigrations(database))
	require.NoError(t, ApplyMigrations(database))
}

func TestDailyStateRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	_, err := database.LoadDailyState(ctx, "2025-08-08")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, database.SaveDailyState(ctx, "2025-08-08", []byte(`{"a":1}`)))
	require.NoError(t, database.SaveDailyState(ctx, "2025-08-08", []byte(`{"a":2}`)))

	got, err := database.LoadDailyState(ctx, "2025-08-08")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(got))
}

func TestSaveOcoPairsReplacesDate(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.SaveOcoPairs(ctx, "2025-08-08", []OcoPairRecord{
		{Symbol: "BTCUSDT", State: "active", Payload: []byte(`{}`)},
		{Symbol: "ETHUSDT", State: "pending", Payload: []byte(`{}`)},
	}))
	require.NoError(t, database.SaveOcoPairs(ctx, "2025-08-08", []OcoPairRecord{
		{Symbol: "BTCUSDT", State: "triggered", Payload: []byte(`{"x":1}`)},
	}))
	require.NoError(t, database.SaveOcoPairs(ctx, "2025-08-09", []OcoPairRecord{
		{Symbol: "SOLUSDT", State: "pending", Payload: []byte(`{}`)},
	}))

	pairs, err := database.ListOcoPairs(ctx, "2025-08-08")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "triggered", pairs[0].State)
	assert.Equal(t, `{"x":1}`, string(pairs[0].Payload))
}

func TestActionsAndOrdersJournal(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.InsertAction(ctx, ActionRecord{
		ID: "a1", Date: "2025-08-08", Kind: "force_close_all", Source: "kill_switch", Status: "done",
	}))
	require.NoError(t, database.InsertAction(ctx, ActionRecord{
		ID: "a2", Date: "2025-08-08", Kind: "raise_attention", Source: "monitor", Symbol: "BTCUSDT",
		Status: "failed", Error: "timeout",
	}))

	actions, err := database.ListActions(ctx, "2025-08-08")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "a1", actions[0].ID)
	assert.Equal(t, "timeout", actions[1].Error)

	o := OrderRecord{
		ID: "c1", Date: "2025-08-08", Symbol: "BTCUSDT", Side: "BUY", Type: "STOP",
		Purpose: "entry", Price: 61050, StopPrice: 61000, Qty: 0.1, Status: "NEW",
	}
	require.NoError(t, database.UpsertOrder(ctx, o))
	o.ExchangeOrderID = "987"
	o.Status = "FILLED"
	require.NoError(t, database.UpsertOrder(ctx, o))

	orders, err := database.ListOrders(ctx, "2025-08-08")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "987", orders[0].ExchangeOrderID)
	assert.Equal(t, "FILLED", orders[0].Status)
}
