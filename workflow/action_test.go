package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnipeWireFormat(t *testing.T) {
	action := Snipe{ChainID: 1, ChainName: "Ethereum", TokenAddress: "0xABC123"}

	data, err := json.Marshal(action)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"action": "snipe",
		"params": {"chain_id": 1, "chain_name": "Ethereum", "token_address": "0xABC123"}
	}`, string(data))
}

func TestTradeWireFormat(t *testing.T) {
	action := aggressiveTrade()

	data, err := json.Marshal(action)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"action": "trade",
		"params": {
			"pair": "ETHUSDT",
			"side": "long",
			"leverage": 7,
			"margin_usd": 500,
			"take_profit_percent": 120,
			"stop_loss_percent": 12
		}
	}`, string(data))
}

func TestNotifyWireFormat(t *testing.T) {
	action := Notify{Source: "twitter/@whale_alert", Text: "big news", CreatedAt: 1718000000, AlignmentScore: 8}

	data, err := json.Marshal(action)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"action": "notify",
		"params": {
			"source": "twitter/@whale_alert",
			"text": "big news",
			"createdAt": 1718000000,
			"alignment_score": 8
		}
	}`, string(data))
}

func TestActionTypes(t *testing.T) {
	assert.Equal(t, ActionSnipe, Snipe{}.Type())
	assert.Equal(t, ActionTrade, Trade{}.Type())
	assert.Equal(t, ActionNotify, Notify{}.Type())
}

func TestTradeForScore(t *testing.T) {
	tests := []struct {
		score        int
		wantTrade    bool
		wantLeverage int
		wantMargin   float64
	}{
		{score: 5, wantTrade: false},
		{score: 6, wantTrade: true, wantLeverage: 5, wantMargin: 300},
		{score: 7, wantTrade: true, wantLeverage: 5, wantMargin: 300},
		{score: 8, wantTrade: true, wantLeverage: 7, wantMargin: 500},
		{score: 10, wantTrade: true, wantLeverage: 7, wantMargin: 500},
		{score: 0, wantTrade: false},
	}

	for _, tt := range tests {
		trade, ok := tradeForScore(tt.score)
		assert.Equal(t, tt.wantTrade, ok, "score %d", tt.score)
		if tt.wantTrade {
			assert.Equal(t, tt.wantLeverage, trade.Leverage, "score %d", tt.score)
			assert.Equal(t, tt.wantMargin, trade.MarginUSD, "score %d", tt.score)
			assert.Equal(t, "ETHUSDT", trade.Pair)
			assert.Equal(t, "long", trade.Side)
			assert.Equal(t, float64(12), trade.StopLossPercent)
		}
	}
}
