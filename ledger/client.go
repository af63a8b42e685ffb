package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client records protocol actions on the external ledger. The core never
// inspects ledger internals; both calls are blocking with the transport's own
// timeout.
type Client interface {
	SubmitTransaction(ctx context.Context, name string, args []string) (*SubmitResult, error)
	EvaluateTransaction(ctx context.Context, name string, args []string) (*EvaluateResult, error)
}

// SubmitResult is the ledger's acknowledgement of a write.
type SubmitResult struct {
	TransactionID string `json:"transactionId"`
}

// EvaluateResult carries the raw payload of a read-only query.
type EvaluateResult struct {
	Result json.RawMessage `json:"result"`
}

// NoopClient satisfies Client without a ledger endpoint configured.
type NoopClient struct{}

func (NoopClient) SubmitTransaction(context.Context, string, []string) (*SubmitResult, error) {
	return &SubmitResult{}, nil
}

func (NoopClient) EvaluateTransaction(context.Context, string, []string) (*EvaluateResult, error) {
	return &EvaluateResult{}, nil
}

// RPCClient implements Client against the ledger's JSON-RPC endpoint.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCClient creates a client for the given endpoint. A zero timeout
// defaults to ten seconds.
func NewRPCClient(baseURL, authToken string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SubmitTransaction invokes a ledger write and returns its transaction id.
func (c *RPCClient) SubmitTransaction(ctx context.Context, name string, args []string) (*SubmitResult, error) {
	var result SubmitResult
	params := map[string]interface{}{"name": name, "args": args}
	if err := c.call(ctx, "ledger_submit", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EvaluateTransaction invokes a read-only ledger query.
func (c *RPCClient) EvaluateTransaction(ctx context.Context, name string, args []string) (*EvaluateResult, error) {
	params := map[string]interface{}{"name": name, "args": args}
	var raw json.RawMessage
	if err := c.call(ctx, "ledger_evaluate", []interface{}{params}, &raw); err != nil {
		return nil, err
	}
	return &EvaluateResult{Result: raw}, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}
