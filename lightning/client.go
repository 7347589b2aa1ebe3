package lightning

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/clhive/archon/signer"
)

const callTimeout = 10 * time.Second

// Client talks JSON-RPC 2.0 to the host lightning node over its unix
// socket. It implements both the signing oracle (signmessage/checkmessage
// delegate to the node's HSM; key material never leaves it) and the bond
// ledger (listfunds aggregate).
type Client struct {
	socketPath string

	mu     sync.Mutex
	nextID int64
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("node rpc dial failed: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("node rpc deadline failed: %w", err)
	}

	if params == nil {
		params = map[string]any{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("node rpc write failed: %w", err)
	}

	var resp rpcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("node rpc read failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("node rpc %s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("node rpc %s result malformed: %w", method, err)
	}
	return nil
}

// NodeKey returns the node's own pubkey via getinfo.
func (c *Client) NodeKey(ctx context.Context) (string, error) {
	var info struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "getinfo", nil, &info); err != nil {
		return "", err
	}
	return info.ID, nil
}

// Sign delegates to the node HSM's signmessage and returns the zbase
// recoverable signature.
func (c *Client) Sign(ctx context.Context, payload []byte) (string, error) {
	var result struct {
		Zbase string `json:"zbase"`
	}
	params := map[string]any{"message": string(payload)}
	if err := c.call(ctx, "signmessage", params, &result); err != nil {
		return "", err
	}
	if result.Zbase == "" {
		return "", fmt.Errorf("signmessage returned empty signature")
	}
	return result.Zbase, nil
}

// Verify delegates to checkmessage and additionally requires the
// recovered key to match the expected one.
func (c *Client) Verify(ctx context.Context, payload []byte, signature, pubkey string) error {
	var result struct {
		Verified bool   `json:"verified"`
		Pubkey   string `json:"pubkey"`
	}
	params := map[string]any{
		"message": string(payload),
		"zbase":   signature,
		"pubkey":  pubkey,
	}
	if err := c.call(ctx, "checkmessage", params, &result); err != nil {
		return err
	}
	if !result.Verified {
		return signer.ErrInvalidSignature
	}
	return nil
}

// AggregateBalanceSats sums the node's side of every channel reported by
// listfunds.
func (c *Client) AggregateBalanceSats(ctx context.Context, nodePubkey string) (int64, error) {
	var funds struct {
		Channels []struct {
			OurAmountMsat int64 `json:"our_amount_msat"`
		} `json:"channels"`
	}
	if err := c.call(ctx, "listfunds", nil, &funds); err != nil {
		return 0, err
	}
	var totalMsat int64
	for _, ch := range funds.Channels {
		totalMsat += ch.OurAmountMsat
	}
	return totalMsat / 1000, nil
}
