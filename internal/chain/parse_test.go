package chain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumodex/perpd/internal/domain"
)

func rawEvent(t *testing.T, payload string) domain.RawEvent {
	t.Helper()
	return domain.RawEvent{
		TxHash:      "0xabc",
		TimestampMs: 1700000000000,
		Payload:     json.RawMessage(payload),
	}
}

func TestParseOpened(t *testing.T) {
	ev, err := ParseOpened(rawEvent(t, `{
		"position_id": "pos-1",
		"user": "0xuser",
		"market_id": "BTC-PERP",
		"size": "10000000",
		"collateral": "1000000000",
		"entry_price": "50000000000",
		"direction": "0"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "pos-1", ev.PositionID)
	assert.Equal(t, "0xuser", ev.Owner)
	assert.Equal(t, domain.SideLong, ev.Side)
	assert.InDelta(t, 10.0, ev.Size, 1e-9)
	assert.InDelta(t, 1000.0, ev.Collateral, 1e-9)
	assert.InDelta(t, 50000.0, ev.EntryPrice, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.Timestamp)
}

func TestParseOpenedNumericDirection(t *testing.T) {
	// EVM payloads carry direction as a bare number rather than a string.
	ev, err := ParseOpened(rawEvent(t, `{
		"position_id": "pos-1",
		"user": "0xuser",
		"market_id": "BTC-PERP",
		"size": "10000000",
		"collateral": "1000000000",
		"entry_price": "50000000000",
		"direction": 1
	}`))
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, ev.Side)
}

func TestParseOpenedRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"missing position id": `{"user":"u","market_id":"m","size":"1","collateral":"1","entry_price":"1","direction":"0"}`,
		"zero size":           `{"position_id":"p","user":"u","market_id":"m","size":"0","collateral":"1","entry_price":"1","direction":"0"}`,
		"bad direction":       `{"position_id":"p","user":"u","market_id":"m","size":"1","collateral":"1","entry_price":"1","direction":"2"}`,
		"not json":            `{`,
		"negative amount":     `{"position_id":"p","user":"u","market_id":"m","size":"-5","collateral":"1","entry_price":"1","direction":"0"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOpened(rawEvent(t, payload))
			assert.Error(t, err)
		})
	}
}

func TestParseClosedAppliesLossSign(t *testing.T) {
	ev, err := ParseClosed(rawEvent(t, `{
		"position_id": "pos-1",
		"user": "0xuser",
		"market_id": "BTC-PERP",
		"close_price": "48000000000",
		"size": "10000000",
		"collateral_returned": "800000000",
		"pnl": "200000000",
		"is_profit": false
	}`))
	require.NoError(t, err)
	assert.InDelta(t, -200.0, ev.PnL, 1e-9)
	assert.InDelta(t, 800.0, ev.CollateralReturned, 1e-9)
}

func TestParseUpdatedCanFlipSide(t *testing.T) {
	ev, err := ParseUpdated(rawEvent(t, `{
		"position_id": "pos-1",
		"user": "0xuser",
		"market_id": "BTC-PERP",
		"new_size": "4000000",
		"new_collateral": "500000000",
		"new_entry_price": "51000000000",
		"direction": "1"
	}`))
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, ev.NewSide)
	assert.InDelta(t, 4.0, ev.NewSize, 1e-9)
}

func TestParseLiquidated(t *testing.T) {
	ev, err := ParseLiquidated(rawEvent(t, `{
		"position_id": "pos-9",
		"owner": "0xowner",
		"liquidator": "0xkeeper",
		"market_id": "ETH-PERP",
		"size": "2000000",
		"collateral": "100000000",
		"pnl": "90000000",
		"is_profit": false
	}`))
	require.NoError(t, err)
	assert.Equal(t, "0xkeeper", ev.Liquidator)
	assert.InDelta(t, 100.0, ev.Collateral, 1e-9)
	assert.InDelta(t, -90.0, ev.PnL, 1e-9)
}
