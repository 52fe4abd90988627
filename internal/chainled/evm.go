package chainled

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/circuitbreaker"
	"github.com/accordproto/accord/internal/retry"
)

var (
	ErrInvalidPrivateKey = errors.New("chainled: invalid private key")
	ErrUnknownCurrency   = errors.New("chainled: no token contract for currency")
	ErrRPCConnection     = errors.New("chainled: RPC connection failed")
)

// ERC20 minimal ABI for transfer and balanceOf
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const (
	// DefaultGasLimit for ERC20 transfers when estimation fails
	DefaultGasLimit = uint64(100000)

	// RPC reads retry briefly before the settlement attempt fails.
	rpcAttempts  = 3
	rpcBaseDelay = 200 * time.Millisecond

	// Consecutive settlement failures per currency before its circuit
	// opens, and how long the circuit stays open.
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// EVMConfig configures the EVM-backed gateway.
type EVMConfig struct {
	RPCURL         string
	PrivateKey     string // hex, with or without 0x prefix
	ChainID        int64
	TokenContracts map[string]string // currency symbol -> ERC-20 contract
}

// EVMOption configures the gateway.
type EVMOption func(*EVMGateway)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) EVMOption {
	return func(g *EVMGateway) {
		g.client = client
	}
}

// EVMGateway settles releases and refunds as ERC-20 transfers from a
// custodial operator wallet. Intent accounting (reserves, idempotency
// keys) lives in an embedded in-memory book; the chain only sees the
// final transfers. Settlement runs through the operator's token balance,
// so the wallet must be funded for the currencies it serves.
type EVMGateway struct {
	book    *MemoryGateway
	client  EthClient
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	tokens  map[string]common.Address
	abi     abi.ABI
	breaker *circuitbreaker.Breaker // keyed by currency
	mu      sync.Mutex              // serializes nonce assignment
}

var _ Gateway = (*EVMGateway)(nil)

// NewEVMGateway creates a gateway bound to an operator wallet.
func NewEVMGateway(cfg EVMConfig, opts ...EVMOption) (*EVMGateway, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	tokens := make(map[string]common.Address, len(cfg.TokenContracts))
	for currency, contract := range cfg.TokenContracts {
		tokens[strings.ToUpper(currency)] = common.HexToAddress(contract)
	}

	g := &EVMGateway{
		book:    NewMemoryGateway(),
		key:     key,
		address: crypto.PubkeyToAddress(*pub),
		chainID: big.NewInt(cfg.ChainID),
		tokens:  tokens,
		abi:     parsedABI,
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenFor),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		g.client = client
	}

	return g, nil
}

// OperatorAddress returns the custodial wallet address.
func (g *EVMGateway) OperatorAddress() string {
	return g.address.Hex()
}

// LockFunds reserves funds in the book. Deposits are credited to the
// book out of band (payment watcher or Seed in development).
func (g *EVMGateway) LockFunds(ctx context.Context, from, amt, currency string) (string, error) {
	if _, ok := g.tokens[strings.ToUpper(currency)]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return g.book.LockFunds(ctx, from, amt, currency)
}

// ReleaseFunds claims the key in the book, then settles on-chain. If
// the chain submission fails the book claim is reverted so the caller
// can retry with the same key.
func (g *EVMGateway) ReleaseFunds(ctx context.Context, intentID, to, amt, key string) (string, error) {
	in, ok := g.book.GetIntent(intentID)
	if !ok {
		return "", ErrIntentNotFound
	}

	settledRef, replay, err := g.book.claimRelease(intentID, to, amt, key)
	if err != nil {
		return "", err
	}
	if replay {
		return settledRef, nil
	}

	txHash, err := g.transfer(ctx, in.Currency, to, amt)
	if err != nil {
		g.book.revertRelease(intentID, to, amt, key)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.book.settle(key, txHash)
	return txHash, nil
}

// RefundFunds claims the key in the book, then settles the remainder
// back to the payer on-chain.
func (g *EVMGateway) RefundFunds(ctx context.Context, intentID, key string) (string, error) {
	in, ok := g.book.GetIntent(intentID)
	if !ok {
		return "", ErrIntentNotFound
	}

	refunded, settledRef, replay, err := g.book.claimRefund(intentID, key)
	if err != nil {
		return "", err
	}
	if replay {
		return settledRef, nil
	}

	txHash, err := g.transfer(ctx, in.Currency, in.From, refunded)
	if err != nil {
		g.book.revertRefund(intentID, refunded, key)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.book.settle(key, txHash)
	return txHash, nil
}

// Transfer claims the key in the book, then settles a direct token
// transfer on-chain.
func (g *EVMGateway) Transfer(ctx context.Context, from, to, amt, currency, key string) (string, error) {
	if from == "" || to == "" {
		return "", ErrInvalidAddress
	}
	if _, ok := g.tokens[strings.ToUpper(currency)]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}

	settledRef, replay, err := g.book.claimTransfer(from, to, amt, currency, key)
	if err != nil {
		return "", err
	}
	if replay {
		return settledRef, nil
	}

	txHash, err := g.transfer(ctx, currency, to, amt)
	if err != nil {
		g.book.revertTransfer(from, to, amt, currency, key)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	g.book.settle(key, txHash)
	return txHash, nil
}

// GetBalance reads the token balance of an address on-chain.
func (g *EVMGateway) GetBalance(ctx context.Context, address, currency string) (string, error) {
	cur := strings.ToUpper(currency)
	contract, ok := g.tokens[cur]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	if !g.breaker.Allow(cur) {
		return "", fmt.Errorf("%w: %s circuit open", ErrUnavailable, cur)
	}

	data, err := g.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return "", fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	var result []byte
	err = retry.Do(ctx, rpcAttempts, rpcBaseDelay, func() error {
		var callErr error
		result, callErr = g.client.CallContract(ctx, ethereum.CallMsg{
			To:   &contract,
			Data: data,
		}, nil)
		return callErr
	})
	if err != nil {
		g.breaker.RecordFailure(cur)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	g.breaker.RecordSuccess(cur)

	balance := new(big.Int).SetBytes(result)
	return amount.Format(balance), nil
}

// Seed credits book funds for an address. Development helper.
func (g *EVMGateway) Seed(address, amt, currency string) error {
	return g.book.Seed(address, amt, currency)
}

// Close closes the underlying RPC client.
func (g *EVMGateway) Close() error {
	if g.client != nil {
		g.client.Close()
	}
	return nil
}

// transfer signs and submits an ERC-20 transfer from the operator
// wallet. Idempotent reads (nonce, gas price) retry with backoff; the
// submission itself runs once, since the caller's claim/revert cycle
// and idempotency key govern re-submission. Failures count against the
// currency's circuit.
func (g *EVMGateway) transfer(ctx context.Context, currency, to, amt string) (string, error) {
	cur := strings.ToUpper(currency)
	contract, ok := g.tokens[cur]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	value, ok2 := amount.Parse(amt)
	if !ok2 || value.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if !g.breaker.Allow(cur) {
		return "", fmt.Errorf("%s circuit open", cur)
	}

	data, err := g.abi.Pack("transfer", common.HexToAddress(to), value)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var nonce uint64
	err = retry.Do(ctx, rpcAttempts, rpcBaseDelay, func() error {
		var rpcErr error
		nonce, rpcErr = g.client.PendingNonceAt(ctx, g.address)
		return rpcErr
	})
	if err != nil {
		g.breaker.RecordFailure(cur)
		return "", fmt.Errorf("nonce: %w", err)
	}

	var gasPrice *big.Int
	err = retry.Do(ctx, rpcAttempts, rpcBaseDelay, func() error {
		var rpcErr error
		gasPrice, rpcErr = g.client.SuggestGasPrice(ctx)
		return rpcErr
	})
	if err != nil {
		g.breaker.RecordFailure(cur)
		return "", fmt.Errorf("gas price: %w", err)
	}

	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  g.address,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		g.breaker.RecordFailure(cur)
		return "", fmt.Errorf("send: %w", err)
	}
	g.breaker.RecordSuccess(cur)

	return signedTx.Hash().Hex(), nil
}
