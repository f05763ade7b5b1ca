// Package ethereum implements ledger.Client against the credit registry
// contract on an EVM chain.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bluecarbon/internal/ledger"
)

// RegistryABI covers the contract surface the registry uses.
const RegistryABI = `[
	{
		"type": "function",
		"name": "mintCredit",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "projectId", "type": "string"},
			{"name": "to", "type": "address"},
			{"name": "tokenURI", "type": "string"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "event",
		"name": "CreditMinted",
		"anonymous": false,
		"inputs": [
			{"name": "tokenId", "type": "uint256", "indexed": true},
			{"name": "projectId", "type": "string", "indexed": false},
			{"name": "owner", "type": "address", "indexed": true},
			{"name": "tokenURI", "type": "string", "indexed": false}
		]
	}
]`

const (
	defaultPollInterval = 2 * time.Second
	// Consecutive polls that must find a transaction gone before it is
	// reported unknown. Load-balanced RPC endpoints can miss a fresh one.
	defaultDropAfter = 3
	// Applied on top of the node's estimate.
	gasHeadroomPercent = 20
)

// Backend is the subset of *ethclient.Client the adapter needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

type Config struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ChainID         int64
	PollInterval    time.Duration
	DropAfter       int
}

// Client signs and submits mintCredit transactions from a single key.
type Client struct {
	backend   Backend
	contract  common.Address
	key       *ecdsa.PrivateKey
	from      common.Address
	signer    types.Signer
	abi       abi.ABI
	poll      time.Duration
	dropAfter int
	logger    *slog.Logger
	tracer    trace.Tracer

	// Serializes nonce allocation and broadcast.
	sendMu sync.Mutex
}

// Dial connects to cfg.RPCURL and returns a ready client.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger rpc: %w", err)
	}
	return New(rpc, cfg, logger)
}

// New builds a client over an existing backend.
func New(backend Backend, cfg Config, logger *slog.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, errors.New("ledger chain id must be positive")
	}
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	dropAfter := cfg.DropAfter
	if dropAfter <= 0 {
		dropAfter = defaultDropAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:   backend,
		contract:  common.HexToAddress(cfg.ContractAddress),
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		signer:    types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		abi:       parsed,
		poll:      poll,
		dropAfter: dropAfter,
		logger:    logger,
		tracer:    otel.Tracer("bluecarbon/ledger"),
	}, nil
}

// SubmitMint signs and broadcasts mintCredit(projectId, to, tokenURI).
func (c *Client) SubmitMint(ctx context.Context, req ledger.MintRequest) (ledger.Handle, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.SubmitMint", trace.WithAttributes(
		attribute.String("ledger.project_id", req.ProjectID),
		attribute.String("ledger.contract", c.contract.Hex()),
	))
	defer span.End()

	h, err := c.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return ledger.Handle{}, err
	}
	span.SetAttributes(attribute.String("ledger.tx_hash", h.TxHash))
	return h, nil
}

func (c *Client) submit(ctx context.Context, req ledger.MintRequest) (ledger.Handle, error) {
	if !common.IsHexAddress(req.WalletAddress) {
		return ledger.Handle{}, fmt.Errorf("invalid wallet address %q", req.WalletAddress)
	}
	data, err := c.abi.Pack("mintCredit", req.ProjectID, common.HexToAddress(req.WalletAddress), req.MetadataRef)
	if err != nil {
		return ledger.Handle{}, fmt.Errorf("pack mintCredit: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return ledger.Handle{}, fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.Handle{}, fmt.Errorf("get gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, gethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return ledger.Handle{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasHeadroomPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return ledger.Handle{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return ledger.Handle{}, fmt.Errorf("send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "mint transaction sent",
		"tx_hash", signed.Hash().Hex(),
		"project_id", req.ProjectID,
		"nonce", nonce,
	)
	return ledger.Handle{TxHash: signed.Hash().Hex()}, nil
}

// AwaitConfirmation polls for the receipt until it is mined or ctx ends. A
// transaction the node no longer knows, or whose nonce was consumed by
// another transaction, returns ledger.ErrUnknownTransaction.
func (c *Client) AwaitConfirmation(ctx context.Context, h ledger.Handle) (*ledger.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.AwaitConfirmation", trace.WithAttributes(
		attribute.String("ledger.tx_hash", h.TxHash),
	))
	defer span.End()

	r, err := c.await(ctx, h)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "await failed")
		return nil, err
	}
	return r, nil
}

func (c *Client) await(ctx context.Context, h ledger.Handle) (*ledger.Receipt, error) {
	hash := common.HexToHash(h.TxHash)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	gone := 0
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("%w: %s in block %v", ledger.ErrReverted, h.TxHash, receipt.BlockNumber)
			}
			return &ledger.Receipt{TxHash: receipt.TxHash.Hex(), Logs: c.decodeLogs(receipt.Logs)}, nil
		case errors.Is(err, gethereum.NotFound):
			dropped, lookupErr := c.dropped(ctx, hash)
			switch {
			case lookupErr != nil:
				c.logger.WarnContext(ctx, "transaction lookup failed, retrying",
					"tx_hash", h.TxHash,
					"error", lookupErr,
				)
			case dropped:
				gone++
				if gone >= c.dropAfter {
					c.logger.WarnContext(ctx, "mint transaction dropped by the node",
						"tx_hash", h.TxHash,
						"polls", gone,
					)
					return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownTransaction, h.TxHash)
				}
			default:
				gone = 0
			}
		default:
			c.logger.WarnContext(ctx, "receipt lookup failed, retrying",
				"tx_hash", h.TxHash,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await %s: %w", h.TxHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// dropped reports whether an unmined transaction can no longer be mined:
// the node has no record of it, or the sender's confirmed nonce has moved
// past it.
func (c *Client) dropped(ctx context.Context, hash common.Hash) (bool, error) {
	tx, pending, err := c.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, gethereum.NotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !pending {
		// Mined; the receipt is not indexed yet.
		return false, nil
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		from = c.from
	}
	confirmed, err := c.backend.NonceAt(ctx, from, nil)
	if err != nil {
		return false, err
	}
	return confirmed > tx.Nonce(), nil
}

// decodeLogs turns the contract's logs into named events. Logs from other
// addresses or with unknown signatures are skipped.
func (c *Client) decodeLogs(logs []*types.Log) []ledger.Event {
	var events []ledger.Event
	for _, l := range logs {
		if l == nil || l.Address != c.contract || len(l.Topics) == 0 {
			continue
		}
		ev, err := c.abi.EventByID(l.Topics[0])
		if err != nil {
			continue
		}
		args := make(map[string]any)
		if len(l.Data) > 0 {
			if err := c.abi.UnpackIntoMap(args, ev.Name, l.Data); err != nil {
				c.logger.Warn("undecodable event data", "event", ev.Name, "error", err)
				continue
			}
		}
		var indexed abi.Arguments
		for _, in := range ev.Inputs {
			if in.Indexed {
				indexed = append(indexed, in)
			}
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, l.Topics[1:]); err != nil {
			c.logger.Warn("undecodable event topics", "event", ev.Name, "error", err)
			continue
		}
		events = append(events, ledger.Event{Name: ev.Name, Args: args})
	}
	return events
}
