// Package risk computes position health and drives the liquidation scan.
package risk

import (
	"github.com/tumodex/perpd/internal/domain"
)

// HealthFactorSentinel is returned when the maintenance margin is zero or
// negative, meaning the position cannot be liquidated by price movement.
const HealthFactorSentinel = 999999.0

// UnrealizedPnL returns the mark-to-market profit of a position: longs gain
// as the price rises, shorts as it falls.
func UnrealizedPnL(size, entryPrice, currentPrice float64, side domain.PositionSide) float64 {
	if side.IsLong() {
		return size * (currentPrice - entryPrice)
	}
	return size * (entryPrice - currentPrice)
}

// HealthFactor returns equity over maintenance margin at the current price.
// A value below 1 means the position is liquidatable.
func HealthFactor(collateral, size, entryPrice, currentPrice float64, side domain.PositionSide, maintenanceMarginRate float64) float64 {
	maintenanceMargin := size * currentPrice * maintenanceMarginRate
	if maintenanceMargin <= 0 {
		return HealthFactorSentinel
	}
	equity := collateral + UnrealizedPnL(size, entryPrice, currentPrice, side)
	return equity / maintenanceMargin
}

// LiquidationPrice returns the price at which the position's equity exactly
// covers the maintenance margin. The result is floored at zero; a long with
// low leverage may be unliquidatable by price alone.
func LiquidationPrice(entryPrice, leverage float64, side domain.PositionSide, maintenanceMarginRate float64) float64 {
	if leverage <= 0 {
		return 0
	}
	var price float64
	if side.IsLong() {
		price = entryPrice * (1 - 1/leverage + maintenanceMarginRate)
	} else {
		price = entryPrice * (1 + 1/leverage - maintenanceMarginRate)
	}
	if price < 0 {
		return 0
	}
	return price
}
