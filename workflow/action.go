package workflow

import "encoding/json"

// ActionType identifies the outbound action kind on the wire.
type ActionType string

// Outbound action kinds
const (
	ActionSnipe  ActionType = "snipe"
	ActionTrade  ActionType = "trade"
	ActionNotify ActionType = "notify"
)

// Action is a closed set of outbound commands the orchestrator can emit.
// Actions are immutable: created once per item, marshalled once by the
// dispatcher, never mutated.
type Action interface {
	json.Marshaler
	Type() ActionType
	isAction()
}

// wireAction is the envelope every action marshals to.
type wireAction struct {
	Action ActionType `json:"action"`
	Params any        `json:"params"`
}

// Snipe instructs the sniper to buy a newly detected token.
type Snipe struct {
	ChainID      int
	ChainName    string
	TokenAddress string
}

// Type returns the action kind.
func (Snipe) Type() ActionType { return ActionSnipe }

func (Snipe) isAction() {}

// MarshalJSON implements the wire format.
func (s Snipe) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAction{
		Action: ActionSnipe,
		Params: struct {
			ChainID      int    `json:"chain_id"`
			ChainName    string `json:"chain_name"`
			TokenAddress string `json:"token_address"`
		}{s.ChainID, s.ChainName, s.TokenAddress},
	})
}

// Trade instructs the trader to open a leveraged position.
type Trade struct {
	Pair              string
	Side              string
	Leverage          int
	MarginUSD         float64
	TakeProfitPercent float64
	StopLossPercent   float64
}

// Type returns the action kind.
func (Trade) Type() ActionType { return ActionTrade }

func (Trade) isAction() {}

// MarshalJSON implements the wire format.
func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAction{
		Action: ActionTrade,
		Params: struct {
			Pair              string  `json:"pair"`
			Side              string  `json:"side"`
			Leverage          int     `json:"leverage"`
			MarginUSD         float64 `json:"margin_usd"`
			TakeProfitPercent float64 `json:"take_profit_percent"`
			StopLossPercent   float64 `json:"stop_loss_percent"`
		}{t.Pair, t.Side, t.Leverage, t.MarginUSD, t.TakeProfitPercent, t.StopLossPercent},
	})
}

// Notify carries an alert to the notification channel. Emitted for every
// non-duplicate item on the news branch regardless of score.
type Notify struct {
	Source         string
	Text           string
	CreatedAt      int64
	AlignmentScore int
}

// Type returns the action kind.
func (Notify) Type() ActionType { return ActionNotify }

func (Notify) isAction() {}

// MarshalJSON implements the wire format.
func (n Notify) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAction{
		Action: ActionNotify,
		Params: struct {
			Source         string `json:"source"`
			Text           string `json:"text"`
			CreatedAt      int64  `json:"createdAt"`
			AlignmentScore int    `json:"alignment_score"`
		}{n.Source, n.Text, n.CreatedAt, n.AlignmentScore},
	})
}

// Trade parameter tiers keyed by score band. Scores in [6,7] open the
// moderate position, scores above 7 the aggressive one.
const (
	tradePair = "ETHUSDT"
	tradeSide = "long"
)

func moderateTrade() Trade {
	return Trade{
		Pair:              tradePair,
		Side:              tradeSide,
		Leverage:          5,
		MarginUSD:         300,
		TakeProfitPercent: 70,
		StopLossPercent:   12,
	}
}

func aggressiveTrade() Trade {
	return Trade{
		Pair:              tradePair,
		Side:              tradeSide,
		Leverage:          7,
		MarginUSD:         500,
		TakeProfitPercent: 120,
		StopLossPercent:   12,
	}
}

// tradeForScore returns the trade action for a score, or false when the
// score does not clear the trade threshold.
func tradeForScore(score int) (Trade, bool) {
	switch {
	case score > 7:
		return aggressiveTrade(), true
	case score >= 6:
		return moderateTrade(), true
	default:
		return Trade{}, false
	}
}
