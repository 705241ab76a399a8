package ingestion

import (
	"encoding/json"
	"fmt"

	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ledger"

	"github.com/google/uuid"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. The same encoding
// is stored as the event log payload, so ParseCommand(EncodeCommand(c)) is
// the replay path.

type initializeJSON struct {
	RequestID string `json:"request_id"`
	Admin     string `json:"admin"`
}

type registerTraderJSON struct {
	RequestID string `json:"request_id"`
	Trader    string `json:"trader"`
}

type recordTradeJSON struct {
	RequestID     string `json:"request_id"`
	Trader        string `json:"trader"`
	ExecutionTime uint64 `json:"execution_time"`
	TradePrice    uint64 `json:"trade_price"`
	Instrument    string `json:"instrument,omitempty"`
}

type recordFailedTradeJSON struct {
	RequestID string `json:"request_id"`
	Trader    string `json:"trader"`
}

type candidateJSON struct {
	Account string `json:"account"` // account path, e.g. external:<uuid>
	Owner   string `json:"owner"`
}

type distributeRewardsJSON struct {
	RequestID  string          `json:"request_id"`
	Admin      string          `json:"admin"`
	Candidates []candidateJSON `json:"candidates"`
}

type stakeTokensJSON struct {
	RequestID string `json:"request_id"`
	Trader    string `json:"trader"`
	Amount    uint64 `json:"amount"`
}

type withdrawStakeJSON struct {
	RequestID string `json:"request_id"`
	Trader    string `json:"trader"`
	Admin     string `json:"admin"`
	Amount    uint64 `json:"amount"`
}

type claimRewardsJSON struct {
	RequestID string `json:"request_id"`
	Trader    string `json:"trader"`
	Admin     string `json:"admin"`
}

type priceTickJSON struct {
	Instrument string `json:"instrument"`
	Price      uint64 `json:"price"`
	Sequence   int64  `json:"sequence"`
	Timestamp  int64  `json:"timestamp"`
}

// ParseCommand decodes a JSON command payload of the given type.
func ParseCommand(eventType event.EventType, data []byte) (event.Event, error) {
	switch eventType {
	case event.EventTypeInitialize:
		return parseInitialize(data)
	case event.EventTypeRegisterTrader:
		return parseRegisterTrader(data)
	case event.EventTypeRecordTrade:
		return parseRecordTrade(data)
	case event.EventTypeRecordFailedTrade:
		return parseRecordFailedTrade(data)
	case event.EventTypeDistributeRewards:
		return parseDistributeRewards(data)
	case event.EventTypeStakeTokens:
		return parseStakeTokens(data)
	case event.EventTypeWithdrawStake:
		return parseWithdrawStake(data)
	case event.EventTypeClaimRewards:
		return parseClaimRewards(data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

func parseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

func parseInitialize(data []byte) (*event.Initialize, error) {
	var j initializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Initialize: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	admin, err := parseUUID("admin", j.Admin)
	if err != nil {
		return nil, err
	}
	return &event.Initialize{RequestID: reqID, Admin: admin}, nil
}

func parseRegisterTrader(data []byte) (*event.RegisterTrader, error) {
	var j registerTraderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RegisterTrader: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := parseUUID("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	return &event.RegisterTrader{RequestID: reqID, Trader: trader}, nil
}

func parseRecordTrade(data []byte) (*event.RecordTrade, error) {
	var j recordTradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RecordTrade: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := parseUUID("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	return &event.RecordTrade{
		RequestID:     reqID,
		Trader:        trader,
		ExecutionTime: j.ExecutionTime,
		TradePrice:    j.TradePrice,
		Instrument:    j.Instrument,
	}, nil
}

func parseRecordFailedTrade(data []byte) (*event.RecordFailedTrade, error) {
	var j recordFailedTradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RecordFailedTrade: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := parseUUID("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	return &event.RecordFailedTrade{RequestID: reqID, Trader: trader}, nil
}

func parseDistributeRewards(data []byte) (*event.DistributeRewards, error) {
	var j distributeRewardsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DistributeRewards: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	admin, err := parseUUID("admin", j.Admin)
	if err != nil {
		return nil, err
	}

	candidates := make([]ledger.TokenAccount, 0, len(j.Candidates))
	for i, c := range j.Candidates {
		key, err := ledger.ParseAccountPath(c.Account)
		if err != nil {
			return nil, fmt.Errorf("candidates[%d]: %w", i, err)
		}
		owner, err := parseUUID(fmt.Sprintf("candidates[%d].owner", i), c.Owner)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, ledger.TokenAccount{Key: key, Owner: owner})
	}

	return &event.DistributeRewards{RequestID: reqID, Admin: admin, Candidates: candidates}, nil
}

func parseStakeTokens(data []byte) (*event.StakeTokens, error) {
	var j stakeTokensJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StakeTokens: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := parseUUID("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	return &event.StakeTokens{RequestID: reqID, Trader: trader, Amount: j.Amount}, nil
}

func parseWithdrawStake(data []byte) (*event.WithdrawStake, error) {
	var j withdrawStakeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawStake: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := parseUUID("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	admin, err := parseUUID("admin", j.Admin)
	if err != nil {
		return nil, err
	}
	return &event.WithdrawStake{RequestID: reqID, Trader: trader, Admin: admin, Amount: j.Amount}, nil
}

func parseClaimRewards(data []byte) (*event.ClaimRewards, error) {
	var j claimRewardsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimRewards: %w", err)
	}
	reqID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, err
	}
	trader, err := parseUUID("trader", j.Trader)
	if err != nil {
		return nil, err
	}
	admin, err := parseUUID("admin", j.Admin)
	if err != nil {
		return nil, err
	}
	return &event.ClaimRewards{RequestID: reqID, Trader: trader, Admin: admin}, nil
}

// ParsePriceTick decodes an oracle price message.
func ParsePriceTick(data []byte) (event.PriceTick, error) {
	var j priceTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return event.PriceTick{}, fmt.Errorf("parse PriceTick: %w", err)
	}
	if j.Instrument == "" {
		return event.PriceTick{}, fmt.Errorf("parse PriceTick: missing instrument")
	}
	return event.PriceTick{
		Instrument: j.Instrument,
		Price:      j.Price,
		Sequence:   j.Sequence,
		Timestamp:  j.Timestamp,
	}, nil
}

// EncodeCommand is the inverse of ParseCommand.
func EncodeCommand(cmd event.Event) ([]byte, error) {
	var v interface{}
	switch c := cmd.(type) {
	case *event.Initialize:
		v = initializeJSON{RequestID: c.RequestID.String(), Admin: c.Admin.String()}
	case *event.RegisterTrader:
		v = registerTraderJSON{RequestID: c.RequestID.String(), Trader: c.Trader.String()}
	case *event.RecordTrade:
		v = recordTradeJSON{
			RequestID:     c.RequestID.String(),
			Trader:        c.Trader.String(),
			ExecutionTime: c.ExecutionTime,
			TradePrice:    c.TradePrice,
			Instrument:    c.Instrument,
		}
	case *event.RecordFailedTrade:
		v = recordFailedTradeJSON{RequestID: c.RequestID.String(), Trader: c.Trader.String()}
	case *event.DistributeRewards:
		candidates := make([]candidateJSON, len(c.Candidates))
		for i, acc := range c.Candidates {
			candidates[i] = candidateJSON{Account: acc.Key.AccountPath(), Owner: acc.Owner.String()}
		}
		v = distributeRewardsJSON{RequestID: c.RequestID.String(), Admin: c.Admin.String(), Candidates: candidates}
	case *event.StakeTokens:
		v = stakeTokensJSON{RequestID: c.RequestID.String(), Trader: c.Trader.String(), Amount: c.Amount}
	case *event.WithdrawStake:
		v = withdrawStakeJSON{
			RequestID: c.RequestID.String(),
			Trader:    c.Trader.String(),
			Admin:     c.Admin.String(),
			Amount:    c.Amount,
		}
	case *event.ClaimRewards:
		v = claimRewardsJSON{RequestID: c.RequestID.String(), Trader: c.Trader.String(), Admin: c.Admin.String()}
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
	return json.Marshal(v)
}
