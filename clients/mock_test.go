package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// mockEthBackend is a mock implementation of EthBackend for testing
type mockEthBackend struct {
	mock.Mock
}

func (m *mockEthBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	args := m.Called(ctx, txHash)
	if receipt := args.Get(0); receipt != nil {
		return receipt.(*ethtypes.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEthBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	args := m.Called(ctx, hash)
	if tx := args.Get(0); tx != nil {
		return tx.(*ethtypes.Transaction), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *mockEthBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, call, blockNumber)
	if out := args.Get(0); out != nil {
		return out.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEthBackend) Close() {
	m.Called()
}

// revertError mimics the JSON-RPC error returned for a reverted eth_call.
type revertError struct{}

func (revertError) Error() string          { return "execution reverted: ERC721: invalid token ID" }
func (revertError) ErrorCode() int         { return 3 }
func (revertError) ErrorData() interface{} { return "0x08c379a0" }

func transferLog(asset, from, to common.Address, amount int64, index uint) *ethtypes.Log {
	return &ethtypes.Log{
		Address: asset,
		Topics: []common.Hash{
			TransferEventID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:  common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		Index: index,
	}
}

func nftTransferLog(contract, from, to common.Address, tokenID int64) *ethtypes.Log {
	return &ethtypes.Log{
		Address: contract,
		Topics: []common.Hash{
			TransferEventID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(tokenID)),
		},
	}
}
