package s3blob

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivePathStampsEachPass(t *testing.T) {
	cutoff := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	first := archivePath("positions", cutoff, time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC))
	assert.Equal(t, "archive/positions/2026-03/20260401T060000Z.jsonl", first)

	// A later pass over the same cutoff month gets its own key.
	second := archivePath("positions", cutoff, time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC))
	assert.NotEqual(t, first, second)
}

func TestMarshalJSONLOneRecordPerLine(t *testing.T) {
	buf, err := marshalJSONL([]any{
		fundingRecord{MarketID: "BTC-PERP", Rate: 0.0025},
		fundingRecord{MarketID: "ETH-PERP", Rate: -0.001},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"market_id":"BTC-PERP"`)
}
