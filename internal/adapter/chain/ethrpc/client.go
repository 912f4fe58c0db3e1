package ethrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"pylinks/config"
	"pylinks/internal/core/domain"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
)

// transferEventSignature is the settlement transfer event carrying the
// payment session reference:
//
//	TransferWithReference(address indexed from, address indexed to, uint256 amount, string reference)
const transferEventSignature = "TransferWithReference(address,address,uint256,string)"

// latestAnswerSelector is the 4-byte selector of the oracle's
// latestAnswer() view (Chainlink aggregator interface).
const latestAnswerSelector = "0x50d25bcd"

const maxRPCResponseSize = 4 << 20

// Client reads settlement progress, transfer logs and the oracle price over
// plain JSON-RPC. It implements ports.ChainReader and ports.PriceOracle.
type Client struct {
	endpoint      string
	tokenAddress  string
	oracleAddress string
	transferTopic string
	timeout       time.Duration
	httpClient    *http.Client
	log           zerolog.Logger
}

// NewClient creates a settlement-layer RPC client.
func NewClient(cfg config.ChainConfig, log zerolog.Logger) *Client {
	return &Client{
		endpoint:      cfg.RPCURL,
		tokenAddress:  strings.ToLower(cfg.TokenAddress),
		oracleAddress: strings.ToLower(cfg.OracleAddress),
		transferTopic: eventTopic(transferEventSignature),
		timeout:       cfg.RequestTimeout,
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		log:           log.With().Str("component", "ethrpc").Logger(),
	}
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	head, err := parseHexUint64(result)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return head, nil
}

// SettlementTransfers returns decoded settlement transfers in
// [fromBlock, toBlock]. Logs that fail to decode are skipped with a warning;
// one malformed log must not hide the rest of the range.
func (c *Client) SettlementTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]domain.ObservedTransfer, error) {
	filter := map[string]any{
		"fromBlock": hexUint64(fromBlock),
		"toBlock":   hexUint64(toBlock),
		"address":   c.tokenAddress,
		"topics":    []any{c.transferTopic},
	}

	var logs []rpcLog
	if err := c.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return nil, fmt.Errorf("eth_getLogs: %w", err)
	}

	transfers := make([]domain.ObservedTransfer, 0, len(logs))
	for _, l := range logs {
		transfer, err := decodeTransferLog(l)
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("tx_hash", l.TransactionHash).
				Str("log_index", l.LogIndex).
				Msg("skipping undecodable transfer log")
			continue
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, nil
}

// TokenPriceUSD reads the oracle's latest token price in 8-decimal USD.
func (c *Client) TokenPriceUSD(ctx context.Context) (int64, error) {
	callArgs := map[string]any{
		"to":   c.oracleAddress,
		"data": latestAnswerSelector,
	}

	var result string
	if err := c.call(ctx, "eth_call", []any{callArgs, "latest"}, &result); err != nil {
		return 0, fmt.Errorf("oracle latestAnswer: %w", err)
	}

	price, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("oracle latestAnswer: malformed result %q", result)
	}
	if !price.IsInt64() || price.Int64() <= 0 {
		return 0, fmt.Errorf("oracle latestAnswer: price out of range %s", price)
	}
	return price.Int64(), nil
}

// call performs one JSON-RPC request and decodes the result.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqJSON))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseSize))
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result json.RawMessage  `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error: %s", string(*rpcResp.Error))
	}
	return json.Unmarshal(rpcResp.Result, result)
}

type rpcLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
	Removed         bool     `json:"removed"`
}

// decodeTransferLog decodes one TransferWithReference log. Topics carry the
// indexed from/to addresses; data is ABI-encoded (uint256 amount, string
// reference).
func decodeTransferLog(l rpcLog) (*domain.ObservedTransfer, error) {
	if l.Removed {
		return nil, fmt.Errorf("log removed by reorg")
	}
	if len(l.Topics) != 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(l.Topics))
	}

	data, err := hex.DecodeString(strings.TrimPrefix(l.Data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("malformed data: %w", err)
	}
	// Static head: amount word + reference offset word.
	if len(data) < 64 {
		return nil, fmt.Errorf("data too short: %d bytes", len(data))
	}

	amount := new(big.Int).SetBytes(data[0:32])
	if !amount.IsInt64() {
		return nil, fmt.Errorf("amount out of int64 range")
	}

	// Both words come off the wire, so the additions "off+32" and
	// "off+32+strLen" can wrap on hostile input. Compare by subtracting
	// from len(data) instead; every operand there is known non-negative.
	offset := new(big.Int).SetBytes(data[32:64])
	if !offset.IsInt64() || offset.Int64() > int64(len(data))-32 {
		return nil, fmt.Errorf("reference offset out of bounds")
	}
	off := int(offset.Int64())

	strLen := new(big.Int).SetBytes(data[off : off+32])
	if !strLen.IsInt64() || strLen.Int64() > int64(len(data)-off)-32 {
		return nil, fmt.Errorf("reference length out of bounds")
	}
	reference := string(data[off+32 : off+32+int(strLen.Int64())])

	blockNumber, err := parseHexUint64(l.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("malformed block number: %w", err)
	}
	logIndex, err := parseHexUint64(l.LogIndex)
	if err != nil {
		return nil, fmt.Errorf("malformed log index: %w", err)
	}

	return &domain.ObservedTransfer{
		TxHash:      l.TransactionHash,
		LogIndex:    uint32(logIndex),
		From:        topicAddress(l.Topics[1]),
		To:          topicAddress(l.Topics[2]),
		Amount:      amount.Int64(),
		Reference:   reference,
		BlockNumber: blockNumber,
	}, nil
}

// topicAddress extracts the 20-byte address from a 32-byte indexed topic.
func topicAddress(topic string) string {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) != 64 {
		return "0x" + t
	}
	return "0x" + strings.ToLower(t[24:])
}

// eventTopic computes the keccak256 topic hash of an event signature.
func eventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func hexUint64(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func parseHexUint64(s string) (uint64, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("malformed hex %q", s)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("hex out of uint64 range %q", s)
	}
	return v.Uint64(), nil
}
