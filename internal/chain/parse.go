package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tumodex/perpd/internal/domain"
)

// scale converts on-ledger fixed-point integers (6 decimal places) to floats.
const scale = 1e6

// uintField decodes a u64 that arrives either as a JSON string (Move RPC
// encodes u64 as string) or as a bare number.
type uintField uint64

func (u *uintField) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %q: %w", string(b), err)
	}
	*u = uintField(v)
	return nil
}

// Scaled converts the fixed-point value to its decimal representation.
func (u uintField) Scaled() float64 {
	return float64(u) / scale
}

func sideFromDirection(d uintField) (domain.PositionSide, error) {
	switch d {
	case 0:
		return domain.SideLong, nil
	case 1:
		return domain.SideShort, nil
	default:
		return "", fmt.Errorf("invalid direction %d", d)
	}
}

// signedPnL applies the wire sign flag to an unsigned magnitude. Ledgers
// encode amounts as u64, so losses travel as a magnitude plus a flag.
func signedPnL(magnitude uintField, isProfit bool) float64 {
	pnl := magnitude.Scaled()
	if !isProfit {
		return -pnl
	}
	return pnl
}

type openedPayload struct {
	PositionID string    `json:"position_id"`
	User       string    `json:"user"`
	MarketID   string    `json:"market_id"`
	Size       uintField `json:"size"`
	Collateral uintField `json:"collateral"`
	EntryPrice uintField `json:"entry_price"`
	Direction  uintField `json:"direction"`
}

// ParseOpened validates and converts a PositionOpened payload.
func ParseOpened(raw domain.RawEvent) (domain.PositionOpenedEvent, error) {
	var p openedPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return domain.PositionOpenedEvent{}, fmt.Errorf("decode opened payload: %w", err)
	}
	if p.PositionID == "" || p.User == "" || p.MarketID == "" {
		return domain.PositionOpenedEvent{}, fmt.Errorf("opened payload missing identifiers")
	}
	if p.Size == 0 || p.Collateral == 0 || p.EntryPrice == 0 {
		return domain.PositionOpenedEvent{}, fmt.Errorf("opened payload has zero amounts")
	}
	side, err := sideFromDirection(p.Direction)
	if err != nil {
		return domain.PositionOpenedEvent{}, err
	}
	return domain.PositionOpenedEvent{
		PositionID: p.PositionID,
		Owner:      p.User,
		MarketID:   p.MarketID,
		Side:       side,
		Size:       p.Size.Scaled(),
		Collateral: p.Collateral.Scaled(),
		EntryPrice: p.EntryPrice.Scaled(),
		TxHash:     raw.TxHash,
		Timestamp:  raw.Time(),
	}, nil
}

type closedPayload struct {
	PositionID         string    `json:"position_id"`
	User               string    `json:"user"`
	MarketID           string    `json:"market_id"`
	ClosePrice         uintField `json:"close_price"`
	Size               uintField `json:"size"`
	CollateralReturned uintField `json:"collateral_returned"`
	PnL                uintField `json:"pnl"`
	IsProfit           bool      `json:"is_profit"`
}

// ParseClosed validates and converts a PositionClosed payload.
func ParseClosed(raw domain.RawEvent) (domain.PositionClosedEvent, error) {
	var p closedPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return domain.PositionClosedEvent{}, fmt.Errorf("decode closed payload: %w", err)
	}
	if p.PositionID == "" || p.User == "" || p.MarketID == "" {
		return domain.PositionClosedEvent{}, fmt.Errorf("closed payload missing identifiers")
	}
	return domain.PositionClosedEvent{
		PositionID:         p.PositionID,
		Owner:              p.User,
		MarketID:           p.MarketID,
		ClosePrice:         p.ClosePrice.Scaled(),
		Size:               p.Size.Scaled(),
		CollateralReturned: p.CollateralReturned.Scaled(),
		PnL:                signedPnL(p.PnL, p.IsProfit),
		TxHash:             raw.TxHash,
		Timestamp:          raw.Time(),
	}, nil
}

type updatedPayload struct {
	PositionID    string    `json:"position_id"`
	User          string    `json:"user"`
	MarketID      string    `json:"market_id"`
	NewSize       uintField `json:"new_size"`
	NewCollateral uintField `json:"new_collateral"`
	NewEntryPrice uintField `json:"new_entry_price"`
	Direction     uintField `json:"direction"`
}

// ParseUpdated validates and converts a PositionUpdated payload.
func ParseUpdated(raw domain.RawEvent) (domain.PositionUpdatedEvent, error) {
	var p updatedPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return domain.PositionUpdatedEvent{}, fmt.Errorf("decode updated payload: %w", err)
	}
	if p.PositionID == "" || p.User == "" || p.MarketID == "" {
		return domain.PositionUpdatedEvent{}, fmt.Errorf("updated payload missing identifiers")
	}
	if p.NewSize == 0 || p.NewCollateral == 0 {
		return domain.PositionUpdatedEvent{}, fmt.Errorf("updated payload has zero amounts")
	}
	side, err := sideFromDirection(p.Direction)
	if err != nil {
		return domain.PositionUpdatedEvent{}, err
	}
	return domain.PositionUpdatedEvent{
		PositionID:    p.PositionID,
		Owner:         p.User,
		MarketID:      p.MarketID,
		NewSide:       side,
		NewSize:       p.NewSize.Scaled(),
		NewCollateral: p.NewCollateral.Scaled(),
		NewEntryPrice: p.NewEntryPrice.Scaled(),
		TxHash:        raw.TxHash,
		Timestamp:     raw.Time(),
	}, nil
}

type liquidatedPayload struct {
	PositionID string    `json:"position_id"`
	Owner      string    `json:"owner"`
	Liquidator string    `json:"liquidator"`
	MarketID   string    `json:"market_id"`
	Size       uintField `json:"size"`
	Collateral uintField `json:"collateral"`
	PnL        uintField `json:"pnl"`
	IsProfit   bool      `json:"is_profit"`
}

// ParseLiquidated validates and converts a PositionLiquidated payload.
func ParseLiquidated(raw domain.RawEvent) (domain.PositionLiquidatedEvent, error) {
	var p liquidatedPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return domain.PositionLiquidatedEvent{}, fmt.Errorf("decode liquidated payload: %w", err)
	}
	if p.PositionID == "" || p.Owner == "" || p.MarketID == "" {
		return domain.PositionLiquidatedEvent{}, fmt.Errorf("liquidated payload missing identifiers")
	}
	return domain.PositionLiquidatedEvent{
		PositionID: p.PositionID,
		Owner:      p.Owner,
		Liquidator: p.Liquidator,
		MarketID:   p.MarketID,
		Size:       p.Size.Scaled(),
		Collateral: p.Collateral.Scaled(),
		PnL:        signedPnL(p.PnL, p.IsProfit),
		TxHash:     raw.TxHash,
		Timestamp:  raw.Time(),
	}, nil
}
