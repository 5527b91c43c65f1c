package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/slavaghoul1337-coder/genge/logger"
	x402types "github.com/slavaghoul1337-coder/genge/types"
)

const defaultRPCTimeout = 10 * time.Second

var (
	_ ChainReader     = (*EVMClient)(nil)
	_ OwnershipReader = (*EVMClient)(nil)
)

// EVMConfig configures an EVMClient.
type EVMConfig struct {
	Network x402types.Network
	RPCURL  string
	// Asset is the ERC-20 contract whose Transfer logs count as payment.
	Asset common.Address
	// NFTContract is the ERC-721 contract queried by OwnerOf. Zero disables ownership reads.
	NFTContract common.Address
	Timeout     time.Duration
}

// EVMClient reads receipts, transactions and ERC-721 ownership from an EVM node.
type EVMClient struct {
	network x402types.Network
	eth     EthBackend
	asset   common.Address
	nft     common.Address
	timeout time.Duration
	nftABI  abi.ABI
	logger  logger.Logger
}

// NewEVMClient dials cfg.RPCURL.
func NewEVMClient(cfg EVMConfig, log logger.Logger) (*EVMClient, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	return NewEVMClientWithBackend(cfg, eth, log), nil
}

// NewEVMClientWithBackend builds a client over an existing backend.
func NewEVMClientWithBackend(cfg EVMConfig, eth EthBackend, log logger.Logger) *EVMClient {
	if log == nil {
		log = logger.NoopLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &EVMClient{
		network: cfg.Network,
		eth:     eth,
		asset:   cfg.Asset,
		nft:     cfg.NFTContract,
		timeout: timeout,
		nftABI:  mustParseABI(erc721OwnerOfABI),
		logger: log.With(map[string]any{
			"component": "evm_client",
			"network":   cfg.Network.String(),
		}),
	}
}

// GetNetwork returns the network this client reads from.
func (c *EVMClient) GetNetwork() x402types.Network { return c.network }

// Asset returns the ERC-20 contract used for transfer decoding.
func (c *EVMClient) Asset() common.Address { return c.asset }

// HasOwnershipContract reports whether OwnerOf has a contract to query.
func (c *EVMClient) HasOwnershipContract() bool { return c.nft != (common.Address{}) }

func (c *EVMClient) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// GetTransactionOutcome fetches the receipt for txRef and decodes the asset transfers.
// A reverted transaction returns its outcome together with ErrTransactionFailed.
func (c *EVMClient) GetTransactionOutcome(ctx context.Context, txRef string) (*x402types.TransactionOutcome, error) {
	hash, err := ParseTxHash(txRef)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrNotFound
		}
		return nil, c.unavailable("get transaction receipt", err)
	}
	if receipt == nil {
		return nil, ErrNotFound
	}

	outcome := &x402types.TransactionOutcome{
		Found:     true,
		Succeeded: receipt.Status == ethtypes.ReceiptStatusSuccessful,
		Logs:      receipt.Logs,
	}
	if !outcome.Succeeded {
		c.logger.Debug("transaction reverted on-chain", map[string]any{"tx_hash": hash.Hex()})
		return outcome, ErrTransactionFailed
	}

	outcome.Transfers = slices.Collect(DecodeTransfers(receipt.Logs, c.asset))
	return outcome, nil
}

// GetTransactionDestination returns the direct recipient and native value of txRef.
func (c *EVMClient) GetTransactionDestination(ctx context.Context, txRef string) (common.Address, *big.Int, error) {
	hash, err := ParseTxHash(txRef)
	if err != nil {
		return common.Address{}, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return common.Address{}, nil, ErrNotFound
		}
		return common.Address{}, nil, c.unavailable("get transaction by hash", err)
	}
	if tx == nil || pending {
		return common.Address{}, nil, ErrNotFound
	}
	if tx.To() == nil {
		return common.Address{}, nil, fmt.Errorf("%w: contract creation has no destination", ErrNotFound)
	}
	return *tx.To(), new(big.Int).Set(tx.Value()), nil
}

// OwnerOf calls ownerOf(itemID) on the configured ERC-721 contract.
func (c *EVMClient) OwnerOf(ctx context.Context, itemID *big.Int) (common.Address, error) {
	if itemID == nil || itemID.Sign() < 0 {
		return common.Address{}, ErrItemNotFound
	}
	if !c.HasOwnershipContract() {
		return common.Address{}, fmt.Errorf("%w: no ownership contract configured", ErrItemNotFound)
	}

	data, err := c.nftABI.Pack("ownerOf", itemID)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack ownerOf call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.nft, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return common.Address{}, ErrItemNotFound
		}
		return common.Address{}, c.unavailable("call ownerOf", err)
	}
	if len(out) == 0 {
		return common.Address{}, ErrItemNotFound
	}

	values, err := c.nftABI.Unpack("ownerOf", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode ownerOf result: %w", err)
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("decode ownerOf result: got %d values", len(values))
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("decode ownerOf result: unexpected type %T", values[0])
	}
	if owner == (common.Address{}) {
		return common.Address{}, ErrItemNotFound
	}
	return owner, nil
}

func (c *EVMClient) unavailable(op string, err error) error {
	c.logger.Warn("rpc call failed", map[string]any{"operation": op, "err": err})
	return fmt.Errorf("%s: %w: %w", op, ErrChainUnavailable, err)
}

// ParseTxHash validates a 0x-prefixed 32-byte hex hash.
func ParseTxHash(txRef string) (common.Hash, error) {
	s := strings.TrimSpace(txRef)
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidReference, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// isRevert separates contract reverts (a definite answer) from transport errors.
func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI definition: %v", err))
	}
	return parsed
}
