package domain

import (
	"math"
	"time"
)

// PriceSample is one oracle quote: a price with its confidence interval and
// publish time.
type PriceSample struct {
	FeedID      string
	Price       float64
	Confidence  float64
	PublishedAt time.Time
}

// Age returns how long ago the sample was published, relative to now.
func (p PriceSample) Age(now time.Time) time.Duration {
	return now.Sub(p.PublishedAt)
}

// Fresh reports whether the sample is recent enough to act on.
func (p PriceSample) Fresh(now time.Time, maxAge time.Duration) bool {
	return p.Age(now) <= maxAge
}

// Confident reports whether the confidence interval is tight enough
// relative to the price. A zero price is never confident.
func (p PriceSample) Confident(maxRatio float64) bool {
	if p.Price == 0 {
		return false
	}
	return p.Confidence/math.Abs(p.Price) <= maxRatio
}
