// Package node talks to the blockchain node and block explorer configured
// for a wallet.
package node

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// backend is the subset of ethclient used here
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	Close()
}

// Client keeps one RPC connection per node endpoint, dialled on first use.
// Wallets carry their own endpoint, so the set is not fixed at startup.
type Client struct {
	mu    sync.Mutex
	conns map[string]backend
	dial  func(ctx context.Context, endpoint string) (backend, error)
}

// NewClient creates a client with no open connections
func NewClient() *Client {
	return &Client{
		conns: make(map[string]backend),
		dial: func(ctx context.Context, endpoint string) (backend, error) {
			return ethclient.DialContext(ctx, endpoint)
		},
	}
}

func (c *Client) conn(ctx context.Context, endpoint string) (backend, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("node endpoint is not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.conns[endpoint]; ok {
		return b, nil
	}
	b, err := c.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	c.conns[endpoint] = b
	return b, nil
}

// ChainID returns the chain id reported by the node
func (c *Client) ChainID(ctx context.Context, endpoint string) (*big.Int, error) {
	b, err := c.conn(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	id, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return id, nil
}

// Balance returns the latest balance of address in wei
func (c *Client) Balance(ctx context.Context, endpoint string, address common.Address) (*big.Int, error) {
	b, err := c.conn(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	balance, err := b.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// TransactionCount returns the number of transactions sent from address
func (c *Client) TransactionCount(ctx context.Context, endpoint string, address common.Address) (uint64, error) {
	b, err := c.conn(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	n, err := b.NonceAt(ctx, address, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction count: %w", err)
	}
	return n, nil
}

// Close closes every open connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for endpoint, b := range c.conns {
		b.Close()
		delete(c.conns, endpoint)
	}
}

// ExplorerLink returns the explorer page for address, or "" when no
// explorer is configured
func ExplorerLink(explorer string, address common.Address) string {
	if explorer == "" {
		return ""
	}
	return strings.TrimSuffix(explorer, "/") + "/address/" + url.PathEscape(address.Hex())
}
