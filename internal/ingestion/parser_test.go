package ingestion_test

import (
	"encoding/json"
	"testing"

	"XspdLeaderboard/internal/event"
	"XspdLeaderboard/internal/ingestion"
	"XspdLeaderboard/internal/ledger"

	"github.com/google/uuid"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseRecordTrade(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":     "550e8400-e29b-41d4-a716-446655440000",
		"trader":         "660e8400-e29b-41d4-a716-446655440001",
		"execution_time": uint64(120),
		"trade_price":    uint64(100_250),
		"instrument":     "XSPD-USD",
	}

	evt, err := ingestion.ParseCommand(event.EventTypeRecordTrade, mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rt, ok := evt.(*event.RecordTrade)
	if !ok {
		t.Fatalf("expected *event.RecordTrade, got %T", evt)
	}
	if rt.Trader.String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("trader: got %s", rt.Trader)
	}
	if rt.ExecutionTime != 120 {
		t.Errorf("execution_time: got %d, want 120", rt.ExecutionTime)
	}
	if rt.TradePrice != 100_250 {
		t.Errorf("trade_price: got %d, want 100_250", rt.TradePrice)
	}
	if rt.Instrument != "XSPD-USD" {
		t.Errorf("instrument: got %s, want XSPD-USD", rt.Instrument)
	}
	if rt.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", rt.IdempotencyKey())
	}
}

func TestParseRecordTrade_LargeValuesSurvive(t *testing.T) {
	data := []byte(`{"request_id":"550e8400-e29b-41d4-a716-446655440000",` +
		`"trader":"660e8400-e29b-41d4-a716-446655440001",` +
		`"execution_time":18446744073709551615,"trade_price":1}`)

	evt, err := ingestion.ParseCommand(event.EventTypeRecordTrade, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := evt.(*event.RecordTrade).ExecutionTime; got != 18446744073709551615 {
		t.Errorf("execution_time: got %d", got)
	}
}

func TestParseDistributeRewards(t *testing.T) {
	owner := uuid.New()
	wallet := uuid.New()
	payload := map[string]interface{}{
		"request_id": uuid.New().String(),
		"admin":      uuid.New().String(),
		"candidates": []map[string]string{
			{"account": "external:" + wallet.String(), "owner": owner.String()},
		},
	}

	evt, err := ingestion.ParseCommand(event.EventTypeDistributeRewards, mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dr := evt.(*event.DistributeRewards)
	if len(dr.Candidates) != 1 {
		t.Fatalf("candidates: got %d, want 1", len(dr.Candidates))
	}
	if dr.Candidates[0].Key != ledger.NewExternalAccountKey(wallet) {
		t.Errorf("account: got %s", dr.Candidates[0].Key.AccountPath())
	}
	if dr.Candidates[0].Owner != owner {
		t.Errorf("owner: got %s, want %s", dr.Candidates[0].Owner, owner)
	}
}

func TestParseCommand_InvalidUUID(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "not-a-uuid",
		"trader":     "660e8400-e29b-41d4-a716-446655440001",
	}
	if _, err := ingestion.ParseCommand(event.EventTypeRecordFailedTrade, mustJSON(t, payload)); err == nil {
		t.Fatal("expected error for invalid request_id")
	}
}

func TestParseCommand_InvalidCandidateAccount(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": uuid.New().String(),
		"admin":      uuid.New().String(),
		"candidates": []map[string]string{{"account": "nowhere", "owner": uuid.New().String()}},
	}
	if _, err := ingestion.ParseCommand(event.EventTypeDistributeRewards, mustJSON(t, payload)); err == nil {
		t.Fatal("expected error for malformed account path")
	}
}

func TestParseCommand_UnknownType(t *testing.T) {
	if _, err := ingestion.ParseCommand(event.EventTypeUnknown, []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseCommand_MalformedJSON(t *testing.T) {
	if _, err := ingestion.ParseCommand(event.EventTypeStakeTokens, []byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParsePriceTick(t *testing.T) {
	tick, err := ingestion.ParsePriceTick([]byte(`{"instrument":"XSPD-USD","price":100000,"sequence":9,"timestamp":1700000000}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if tick.Instrument != "XSPD-USD" || tick.Price != 100_000 || tick.Sequence != 9 || tick.Timestamp != 1_700_000_000 {
		t.Errorf("unexpected tick %+v", tick)
	}

	if _, err := ingestion.ParsePriceTick([]byte(`{"price":1}`)); err == nil {
		t.Error("expected error for missing instrument")
	}
}

// Every command type must survive the log payload encoding unchanged.
func TestEncodeCommand_ParsesBack(t *testing.T) {
	trader, admin := uuid.New(), uuid.New()
	cmds := []event.Event{
		&event.Initialize{RequestID: uuid.New(), Admin: admin},
		&event.RegisterTrader{RequestID: uuid.New(), Trader: trader},
		&event.RecordTrade{RequestID: uuid.New(), Trader: trader, ExecutionTime: 7, TradePrice: 99_900},
		&event.RecordFailedTrade{RequestID: uuid.New(), Trader: trader},
		&event.DistributeRewards{RequestID: uuid.New(), Admin: admin, Candidates: []ledger.TokenAccount{
			{Key: ledger.NewTraderAccountKey(trader), Owner: trader},
		}},
		&event.StakeTokens{RequestID: uuid.New(), Trader: trader, Amount: 50},
		&event.WithdrawStake{RequestID: uuid.New(), Trader: trader, Admin: admin, Amount: 20},
		&event.ClaimRewards{RequestID: uuid.New(), Trader: trader, Admin: admin},
	}

	for _, cmd := range cmds {
		data, err := ingestion.EncodeCommand(cmd)
		if err != nil {
			t.Fatalf("%s: encode: %v", cmd.EventType(), err)
		}
		back, err := ingestion.ParseCommand(cmd.EventType(), data)
		if err != nil {
			t.Fatalf("%s: parse: %v", cmd.EventType(), err)
		}
		again, err := ingestion.EncodeCommand(back)
		if err != nil {
			t.Fatalf("%s: re-encode: %v", cmd.EventType(), err)
		}
		if string(again) != string(data) {
			t.Errorf("%s: payload changed:\n  %s\n  %s", cmd.EventType(), data, again)
		}
	}
}

func TestResolveEventType(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	tests := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"xspd.trades.recorded.660e8400", "RecordTrade", true},
		{"xspd.trades.failed.660e8400", "RecordFailedTrade", true},
		{"xspd.stakes.withdraw.x", "WithdrawStake", true},
		{"xspd.prices.XSPD-USD", ingestion.PriceTickType, true},
		{"xspd.unknown.thing", "", false},
	}
	for _, tt := range tests {
		got, ok := ingestion.ResolveEventType(tt.subject, subjects)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ResolveEventType(%q): got (%q, %v), want (%q, %v)", tt.subject, got, ok, tt.want, tt.ok)
		}
	}
}
