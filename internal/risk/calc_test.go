package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tumodex/perpd/internal/domain"
)

func TestLiquidationPrice(t *testing.T) {
	// 10x long at 50000 with 5% maintenance margin.
	long := LiquidationPrice(50000, 10, domain.SideLong, 0.05)
	assert.InDelta(t, 47500.0, long, 1e-6)

	short := LiquidationPrice(50000, 10, domain.SideShort, 0.05)
	assert.InDelta(t, 52500.0, short, 1e-6)
}

func TestLiquidationPriceFlooredAtZero(t *testing.T) {
	// 1x long: entry*(1-1+mmr) stays positive, but a sub-1x long with a
	// tiny margin rate would go negative without the floor.
	p := LiquidationPrice(100, 0.5, domain.SideLong, 0.05)
	assert.Equal(t, 0.0, p)
}

func TestLiquidationPriceZeroLeverage(t *testing.T) {
	assert.Equal(t, 0.0, LiquidationPrice(50000, 0, domain.SideLong, 0.05))
}

func TestHealthFactor(t *testing.T) {
	// 1 unit long from 50000 to 51000 with 1000 collateral and 5% mmr:
	// equity 2000 over maintenance margin 2550.
	hf := HealthFactor(1000, 1, 50000, 51000, domain.SideLong, 0.05)
	assert.InDelta(t, 0.7843, hf, 1e-4)
}

func TestHealthFactorShortGainsOnDrop(t *testing.T) {
	up := HealthFactor(1000, 1, 50000, 51000, domain.SideShort, 0.05)
	down := HealthFactor(1000, 1, 50000, 49000, domain.SideShort, 0.05)
	assert.Greater(t, down, up)
}

func TestHealthFactorSentinel(t *testing.T) {
	assert.Equal(t, HealthFactorSentinel, HealthFactor(1000, 0, 50000, 51000, domain.SideLong, 0.05))
	assert.Equal(t, HealthFactorSentinel, HealthFactor(1000, 1, 50000, 51000, domain.SideLong, 0))
}

func TestUnrealizedPnL(t *testing.T) {
	assert.InDelta(t, 1000.0, UnrealizedPnL(1, 50000, 51000, domain.SideLong), 1e-9)
	assert.InDelta(t, -1000.0, UnrealizedPnL(1, 50000, 51000, domain.SideShort), 1e-9)
}
