package indexer

import (
	"fmt"

	"github.com/tumodex/perpd/internal/domain"
	"github.com/tumodex/perpd/internal/risk"
)

// defaultMaintenanceMarginRate is used for notification enrichment when the
// market is unknown to the mirror.
const defaultMaintenanceMarginRate = 0.05

func liquidationPrice(pos domain.Position, market domain.Market) float64 {
	mmr := market.MaintenanceMarginRate
	if mmr == 0 {
		mmr = defaultMaintenanceMarginRate
	}
	return risk.LiquidationPrice(pos.EntryPrice, pos.Leverage, pos.Side, mmr)
}

func openedNotification(pos domain.Position, market domain.Market) *domain.Notification {
	return &domain.Notification{
		Type:        domain.NotifyPositionOpened,
		UserAddress: pos.UserAddress,
		MarketID:    pos.MarketID,
		Title:       fmt.Sprintf("Position opened: %s", market.Symbol),
		Message: fmt.Sprintf("%s %.4f %s @ %.2f (%.1fx)",
			pos.Side, pos.Size, market.Symbol, pos.EntryPrice, pos.Leverage),
		Data: map[string]any{
			"position_id":       pos.PositionID,
			"side":              pos.Side,
			"size":              pos.Size,
			"collateral":        pos.Collateral,
			"entry_price":       pos.EntryPrice,
			"leverage":          pos.Leverage,
			"liquidation_price": liquidationPrice(pos, market),
			"tx_hash":           pos.TransactionHash,
		},
	}
}

func closedNotification(pos domain.Position, ev domain.PositionClosedEvent, market domain.Market) *domain.Notification {
	return &domain.Notification{
		Type:        domain.NotifyPositionClosed,
		UserAddress: pos.UserAddress,
		MarketID:    pos.MarketID,
		Title:       fmt.Sprintf("Position closed: %s", market.Symbol),
		Message: fmt.Sprintf("%s %.4f %s closed @ %.2f, PnL %+.2f",
			pos.Side, pos.Size, market.Symbol, ev.ClosePrice, ev.PnL),
		Data: map[string]any{
			"position_id": pos.PositionID,
			"side":        pos.Side,
			"size":        pos.Size,
			"entry_price": pos.EntryPrice,
			"exit_price":  ev.ClosePrice,
			"pnl":         ev.PnL,
			"tx_hash":     ev.TxHash,
		},
	}
}

func updatedNotification(pos domain.Position, market domain.Market) *domain.Notification {
	return &domain.Notification{
		Type:        domain.NotifyPositionUpdated,
		UserAddress: pos.UserAddress,
		MarketID:    pos.MarketID,
		Title:       fmt.Sprintf("Position updated: %s", market.Symbol),
		Message: fmt.Sprintf("%s %.4f %s @ %.2f (%.1fx)",
			pos.Side, pos.Size, market.Symbol, pos.EntryPrice, pos.Leverage),
		Data: map[string]any{
			"position_id":       pos.PositionID,
			"side":              pos.Side,
			"size":              pos.Size,
			"collateral":        pos.Collateral,
			"entry_price":       pos.EntryPrice,
			"leverage":          pos.Leverage,
			"liquidation_price": liquidationPrice(pos, market),
		},
	}
}

func liquidatedNotification(pos domain.Position, market domain.Market, rec domain.LiquidationRecord) *domain.Notification {
	// What the owner lost: their collateral less the fee already counted.
	realized := -(pos.Collateral - rec.LiquidationFee)
	return &domain.Notification{
		Type:        domain.NotifyPositionLiquidated,
		UserAddress: pos.UserAddress,
		MarketID:    pos.MarketID,
		Title:       fmt.Sprintf("Position liquidated: %s", market.Symbol),
		Message: fmt.Sprintf("%s %.4f %s liquidated near %.2f, PnL %+.2f",
			pos.Side, pos.Size, market.Symbol, rec.LiquidationPrice, realized),
		Data: map[string]any{
			"position_id":       pos.PositionID,
			"side":              pos.Side,
			"size":              pos.Size,
			"entry_price":       pos.EntryPrice,
			"liquidation_price": rec.LiquidationPrice,
			"liquidation_fee":   rec.LiquidationFee,
			"realized_pnl":      realized,
			"tx_hash":           rec.TransactionHash,
		},
	}
}
