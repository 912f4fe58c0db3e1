package ethrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pylinks/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.ChainConfig{
		RPCURL:         srv.URL,
		TokenAddress:   "0xToKeN",
		OracleAddress:  "0xOrAcLe",
		RequestTimeout: 5 * time.Second,
	}, zerolog.Nop())
}

func rpcResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	resp := map[string]any{"jsonrpc": "2.0", "id": 1, "result": result}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

// abiWord left-pads a hex payload to a 32-byte word.
func abiWord(hexPayload string) string {
	return strings.Repeat("0", 64-len(hexPayload)) + hexPayload
}

// encodeTransferData ABI-encodes (uint256 amount, string reference).
func encodeTransferData(amount int64, reference string) string {
	refHex := hex.EncodeToString([]byte(reference))
	if pad := len(refHex) % 64; pad != 0 {
		refHex += strings.Repeat("0", 64-pad)
	}
	return "0x" +
		abiWord(fmt.Sprintf("%x", amount)) + // amount
		abiWord("40") + // offset to string
		abiWord(fmt.Sprintf("%x", len(reference))) + // string length
		refHex
}

func TestClient_BlockNumber(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_blockNumber", req["method"])
		rpcResult(t, w, "0x4d2")
	})

	head, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), head)
}

func TestClient_BlockNumber_RPCError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32000, "message": "node syncing"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node syncing")
}

func TestClient_SettlementTransfers(t *testing.T) {
	fromTopic := "0x" + abiWord("00000000000000000000000000000000000000aa")
	toTopic := "0x" + abiWord("00000000000000000000000000000000000000bb")

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_getLogs", req["method"])

		params := req["params"].([]any)
		filter := params[0].(map[string]any)
		assert.Equal(t, "0x64", filter["fromBlock"])
		assert.Equal(t, "0x6e", filter["toBlock"])

		rpcResult(t, w, []map[string]any{{
			"address":         "0xtoken",
			"topics":          []string{eventTopic(transferEventSignature), fromTopic, toTopic},
			"data":            encodeTransferData(25_000_000, "sess-001"),
			"blockNumber":     "0x65",
			"transactionHash": "0xdeadbeef",
			"logIndex":        "0x2",
		}})
	})

	transfers, err := client.SettlementTransfers(context.Background(), 100, 110)
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	tr := transfers[0]
	assert.Equal(t, "0xdeadbeef", tr.TxHash)
	assert.Equal(t, uint32(2), tr.LogIndex)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", tr.From)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", tr.To)
	assert.Equal(t, int64(25_000_000), tr.Amount)
	assert.Equal(t, "sess-001", tr.Reference)
	assert.Equal(t, uint64(0x65), tr.BlockNumber)
}

func TestClient_SettlementTransfers_SkipsMalformedLog(t *testing.T) {
	fromTopic := "0x" + abiWord("aa")
	toTopic := "0x" + abiWord("bb")

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, []map[string]any{
			{
				// data too short to decode
				"address":         "0xtoken",
				"topics":          []string{eventTopic(transferEventSignature), fromTopic, toTopic},
				"data":            "0x00",
				"blockNumber":     "0x65",
				"transactionHash": "0xbad",
				"logIndex":        "0x0",
			},
			{
				"address":         "0xtoken",
				"topics":          []string{eventTopic(transferEventSignature), fromTopic, toTopic},
				"data":            encodeTransferData(1_000_000, "sess-002"),
				"blockNumber":     "0x66",
				"transactionHash": "0xgood",
				"logIndex":        "0x1",
			},
		})
	})

	transfers, err := client.SettlementTransfers(context.Background(), 100, 110)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "0xgood", transfers[0].TxHash)
}

func TestDecodeTransferLog_HostileWords(t *testing.T) {
	fromTopic := "0x" + abiWord("aa")
	toTopic := "0x" + abiWord("bb")

	// Offset and length words large enough that naive "off+32" arithmetic
	// wraps negative and the slice expression panics instead of erroring.
	cases := []struct {
		name string
		data string
	}{
		{
			name: "offset near max int64",
			data: "0x" + abiWord("1") + abiWord("7fffffffffffffff"),
		},
		{
			name: "offset beyond int64",
			data: "0x" + abiWord("1") + abiWord("ffffffffffffffffff"),
		},
		{
			name: "length near max int64",
			data: "0x" + abiWord("1") + abiWord("40") + abiWord("7fffffffffffffff"),
		},
		{
			name: "length beyond int64",
			data: "0x" + abiWord("1") + abiWord("40") + abiWord("ffffffffffffffffff"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeTransferLog(rpcLog{
				Topics:          []string{eventTopic(transferEventSignature), fromTopic, toTopic},
				Data:            tc.data,
				BlockNumber:     "0x65",
				TransactionHash: "0xhostile",
				LogIndex:        "0x0",
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "out of bounds")
		})
	}
}

func TestClient_TokenPriceUSD(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_call", req["method"])

		params := req["params"].([]any)
		callArgs := params[0].(map[string]any)
		assert.Equal(t, latestAnswerSelector, callArgs["data"])

		// $0.99985 at 8 decimals
		rpcResult(t, w, "0x"+abiWord(fmt.Sprintf("%x", 99_985_000)))
	})

	price, err := client.TokenPriceUSD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99_985_000), price)
}

func TestClient_TokenPriceUSD_NonPositive(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, "0x"+abiWord("0"))
	})

	_, err := client.TokenPriceUSD(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
