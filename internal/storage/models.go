package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
)

// CorridorSnapshot is a persisted corridor state at one recompute.
type CorridorSnapshot struct {
	Pair          string
	ComputedAt    time.Time
	BaseFeeBps    int
	AdjustmentBps int
	TotalFeeBps   int
	RiskScore     float64
	InWindow      bool
	WindowLabel   string
	ActiveSignals int
}

// SnapshotFromState flattens a corridor state for storage.
func SnapshotFromState(st risk.CorridorState) CorridorSnapshot {
	return CorridorSnapshot{
		Pair:          st.Pair,
		ComputedAt:    st.LastComputedAt.UTC(),
		BaseFeeBps:    st.BaseFeeBps,
		AdjustmentBps: st.SuggestedAdjustmentBps,
		TotalFeeBps:   st.TotalFeeBps,
		RiskScore:     st.RiskScore,
		InWindow:      st.InSensitiveWindow,
		WindowLabel:   st.WindowLabel,
		ActiveSignals: len(st.ActiveSignals),
	}
}

// SignalRecord is an ingested signal as archived.
type SignalRecord struct {
	ID          string
	Source      string
	Corridor    string
	Timestamp   time.Time
	Magnitude   float64
	TTL         time.Duration
	Description string
	Tags        []string
	CreatedAt   time.Time
}

// SignalRecordFrom converts an ingested signal.
func SignalRecordFrom(sig risk.Signal) SignalRecord {
	return SignalRecord{
		ID:          sig.ID,
		Source:      string(sig.Source),
		Corridor:    sig.Corridor,
		Timestamp:   sig.Timestamp.UTC(),
		Magnitude:   sig.Magnitude,
		TTL:         sig.TTL,
		Description: sig.Description,
		Tags:        sig.Tags,
	}
}

// Signal restores the engine representation.
func (r SignalRecord) Signal() risk.Signal {
	return risk.Signal{
		ID:          r.ID,
		Source:      risk.Source(r.Source),
		Corridor:    r.Corridor,
		Timestamp:   r.Timestamp,
		Magnitude:   r.Magnitude,
		TTL:         r.TTL,
		Description: r.Description,
		Tags:        r.Tags,
	}
}

// QuoteLog is the audit row written for every quote request.
type QuoteLog struct {
	ID              int64
	QuotedAt        time.Time
	FromNetwork     string
	ToNetwork       string
	Asset           string
	Amount          decimal.Decimal
	Corridor        string
	AdjustmentBps   int
	RouteCount      int
	BestProvider    string
	BestTotalFeePct decimal.Decimal
	Failures        json.RawMessage
	Status          string
	Error           *string
}

// QuoteLogFrom builds an audit row from a quote outcome.
func QuoteLogFrom(req routing.QuoteRequest, res routing.QuoteResult, quoteErr error, at time.Time) QuoteLog {
	entry := QuoteLog{
		QuotedAt:      at.UTC(),
		FromNetwork:   req.FromNetwork,
		ToNetwork:     req.ToNetwork,
		Asset:         req.Asset,
		Amount:        req.Amount,
		Corridor:      req.Corridor,
		AdjustmentBps: res.AdjustmentBps,
		RouteCount:    len(res.Routes),
		Failures:      json.RawMessage("[]"),
		Status:        "ok",
	}
	if len(res.Routes) > 0 {
		entry.BestProvider = res.Routes[0].Provider
		entry.BestTotalFeePct = res.Routes[0].TotalFeePercent
	}
	if len(res.Failures) > 0 {
		if raw, err := json.Marshal(res.Failures); err == nil {
			entry.Failures = raw
		}
	}
	if quoteErr != nil {
		msg := quoteErr.Error()
		entry.Status = "failed"
		entry.Error = &msg
	}
	return entry
}
