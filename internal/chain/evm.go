package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tumodex/perpd/internal/domain"
)

// perpMarketABI covers the four lifecycle events of the EVM deployment of
// the market contract. Amounts use the same 6-decimal fixed point as the
// Move deployment.
const perpMarketABI = `[
	{"type":"event","name":"PositionOpened","inputs":[
		{"name":"positionId","type":"string","indexed":false},
		{"name":"user","type":"address","indexed":false},
		{"name":"marketId","type":"string","indexed":false},
		{"name":"size","type":"uint256","indexed":false},
		{"name":"collateral","type":"uint256","indexed":false},
		{"name":"entryPrice","type":"uint256","indexed":false},
		{"name":"direction","type":"uint8","indexed":false}]},
	{"type":"event","name":"PositionClosed","inputs":[
		{"name":"positionId","type":"string","indexed":false},
		{"name":"user","type":"address","indexed":false},
		{"name":"marketId","type":"string","indexed":false},
		{"name":"closePrice","type":"uint256","indexed":false},
		{"name":"size","type":"uint256","indexed":false},
		{"name":"collateralReturned","type":"uint256","indexed":false},
		{"name":"pnl","type":"uint256","indexed":false},
		{"name":"isProfit","type":"bool","indexed":false}]},
	{"type":"event","name":"PositionUpdated","inputs":[
		{"name":"positionId","type":"string","indexed":false},
		{"name":"user","type":"address","indexed":false},
		{"name":"marketId","type":"string","indexed":false},
		{"name":"newSize","type":"uint256","indexed":false},
		{"name":"newCollateral","type":"uint256","indexed":false},
		{"name":"newEntryPrice","type":"uint256","indexed":false},
		{"name":"direction","type":"uint8","indexed":false}]},
	{"type":"event","name":"PositionLiquidated","inputs":[
		{"name":"positionId","type":"string","indexed":false},
		{"name":"owner","type":"address","indexed":false},
		{"name":"liquidator","type":"address","indexed":false},
		{"name":"marketId","type":"string","indexed":false},
		{"name":"size","type":"uint256","indexed":false},
		{"name":"collateral","type":"uint256","indexed":false},
		{"name":"pnl","type":"uint256","indexed":false},
		{"name":"isProfit","type":"bool","indexed":false}]}
]`

var evmEventNames = map[domain.EventCategory]string{
	domain.EventPositionOpened:     "PositionOpened",
	domain.EventPositionClosed:     "PositionClosed",
	domain.EventPositionUpdated:    "PositionUpdated",
	domain.EventPositionLiquidated: "PositionLiquidated",
}

// EVMSource reads position lifecycle events from an EVM deployment of the
// market contract via eth_getLogs. Cursors are block numbers.
type EVMSource struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	logger   *slog.Logger
}

// NewEVMSource dials the RPC endpoint and prepares the contract ABI.
func NewEVMSource(ctx context.Context, rpcURL, contractAddr string, logger *slog.Logger) (*EVMSource, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(perpMarketABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: parse contract abi: %w", err)
	}
	return &EVMSource{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
		logger:   logger.With(slog.String("component", "evm_source")),
	}, nil
}

// Close releases the RPC connection.
func (s *EVMSource) Close() {
	s.client.Close()
}

// LatestCursor returns the current head block number.
func (s *EVMSource) LatestCursor(ctx context.Context) (uint64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("evm: block number: %w", err)
	}
	return n, nil
}

// QueryEvents filters contract logs for one category within the closed
// block range [from, to] and re-encodes them as raw payloads.
func (s *EVMSource) QueryEvents(ctx context.Context, category domain.EventCategory, from, to uint64) ([]domain.RawEvent, error) {
	name, ok := evmEventNames[category]
	if !ok {
		return nil, fmt.Errorf("evm: unknown event category %q", category)
	}
	event := s.abi.Events[name]

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("evm: filter %s logs: %w", name, err)
	}

	blockTimes := make(map[uint64]int64)
	events := make([]domain.RawEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		payload, err := s.encodePayload(event, lg)
		if err != nil {
			s.logger.Warn("skipping undecodable log",
				slog.String("event", name),
				slog.String("tx", lg.TxHash.Hex()),
				slog.String("error", err.Error()))
			continue
		}
		ts, err := s.blockTime(ctx, blockTimes, lg.BlockNumber)
		if err != nil {
			return nil, err
		}
		events = append(events, domain.RawEvent{
			TxHash:      lg.TxHash.Hex(),
			TimestampMs: ts,
			Payload:     payload,
		})
	}
	return events, nil
}

// encodePayload unpacks a log and re-encodes it with the wire field names
// the payload parsers expect, so both ledger backends share one decode path.
func (s *EVMSource) encodePayload(event abi.Event, lg types.Log) (json.RawMessage, error) {
	values := make(map[string]any)
	if err := event.Inputs.UnpackIntoMap(values, lg.Data); err != nil {
		return nil, fmt.Errorf("unpack log data: %w", err)
	}

	wire := make(map[string]any, len(values))
	for name, v := range values {
		key := snakeCase(name)
		switch tv := v.(type) {
		case *big.Int:
			wire[key] = tv.String()
		case common.Address:
			wire[key] = strings.ToLower(tv.Hex())
		default:
			wire[key] = tv
		}
	}
	return json.Marshal(wire)
}

func (s *EVMSource) blockTime(ctx context.Context, cache map[uint64]int64, blockNumber uint64) (int64, error) {
	if ts, ok := cache[blockNumber]; ok {
		return ts, nil
	}
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("evm: header for block %d: %w", blockNumber, err)
	}
	ts := int64(header.Time) * 1000
	cache[blockNumber] = ts
	return ts, nil
}

// snakeCase converts ABI camelCase argument names to the snake_case wire
// field names used by the Move deployment.
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
