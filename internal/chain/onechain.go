package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// moveEventNames maps lifecycle categories to the Move event struct names
// emitted by the market module.
var moveEventNames = map[domain.EventCategory]string{
	domain.EventPositionOpened:     "market::PositionOpened",
	domain.EventPositionClosed:     "market::PositionClosed",
	domain.EventPositionUpdated:    "market::PositionUpdated",
	domain.EventPositionLiquidated: "market::PositionLiquidated",
}

// OnechainSource reads position lifecycle events from a Move-based ledger
// over its JSON-RPC API. Cursors are checkpoint sequence numbers.
type OnechainSource struct {
	rpcURL     string
	packageID  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOnechainSource creates a source against the given RPC endpoint.
// packageID is the deployed Move package that emits the events.
func NewOnechainSource(rpcURL, packageID string, logger *slog.Logger) *OnechainSource {
	return &OnechainSource{
		rpcURL:    rpcURL,
		packageID: packageID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "onechain_source")),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// onechainEvent is the RPC event envelope. u64 values travel as strings.
type onechainEvent struct {
	ID struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"id"`
	Type        string          `json:"type"`
	Checkpoint  uintField       `json:"checkpoint"`
	TimestampMs uintField       `json:"timestampMs"`
	ParsedJSON  json.RawMessage `json:"parsedJson"`
}

type eventPage struct {
	Data        []onechainEvent `json:"data"`
	NextCursor  json.RawMessage `json:"nextCursor"`
	HasNextPage bool            `json:"hasNextPage"`
}

// LatestCursor returns the ledger's latest checkpoint sequence number.
func (s *OnechainSource) LatestCursor(ctx context.Context) (uint64, error) {
	result, err := s.call(ctx, "sui_getLatestCheckpointSequenceNumber", nil)
	if err != nil {
		return 0, fmt.Errorf("onechain: latest checkpoint: %w", err)
	}
	var seq uintField
	if err := json.Unmarshal(result, &seq); err != nil {
		return 0, fmt.Errorf("onechain: decode latest checkpoint: %w", err)
	}
	return uint64(seq), nil
}

// QueryEvents pages through suix_queryEvents for one category and keeps the
// events whose checkpoint falls inside [from, to]. The RPC filter is by
// event type only; the checkpoint window is applied client-side.
func (s *OnechainSource) QueryEvents(ctx context.Context, category domain.EventCategory, from, to uint64) ([]domain.RawEvent, error) {
	name, ok := moveEventNames[category]
	if !ok {
		return nil, fmt.Errorf("onechain: unknown event category %q", category)
	}
	filter := map[string]any{
		"MoveEventType": fmt.Sprintf("%s::%s", s.packageID, name),
	}

	var (
		events []domain.RawEvent
		cursor json.RawMessage
	)
	const pageSize = 100
	for page := 0; ; page++ {
		var cursorParam any
		if cursor != nil {
			cursorParam = cursor
		}
		result, err := s.call(ctx, "suix_queryEvents", []any{filter, cursorParam, pageSize, false})
		if err != nil {
			return nil, fmt.Errorf("onechain: query %s events: %w", category, err)
		}

		var ep eventPage
		if err := json.Unmarshal(result, &ep); err != nil {
			return nil, fmt.Errorf("onechain: decode %s event page: %w", category, err)
		}

		done := false
		for _, ev := range ep.Data {
			cp := uint64(ev.Checkpoint)
			if cp > to {
				// Pages are ascending; everything past here is beyond
				// the window.
				done = true
				break
			}
			if cp < from {
				continue
			}
			events = append(events, domain.RawEvent{
				TxHash:      ev.ID.TxDigest,
				TimestampMs: int64(ev.TimestampMs),
				Payload:     ev.ParsedJSON,
			})
		}
		if done || !ep.HasNextPage || len(ep.Data) == 0 {
			break
		}
		cursor = ep.NextCursor
		if page >= 100 {
			s.logger.Warn("event pagination truncated",
				slog.String("category", string(category)),
				slog.Uint64("from", from),
				slog.Uint64("to", to))
			break
		}
	}
	return events, nil
}

func (s *OnechainSource) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
