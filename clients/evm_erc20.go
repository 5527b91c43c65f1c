package clients

import (
	"iter"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	x402types "github.com/slavaghoul1337-coder/genge/types"
)

const erc20TransferABI = `[{
	"anonymous": false,
	"type": "event",
	"name": "Transfer",
	"inputs": [
		{"indexed": true,  "name": "from",  "type": "address"},
		{"indexed": true,  "name": "to",    "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	]
}]`

var (
	erc20ABI = mustParseABI(erc20TransferABI)

	// TransferEventID is keccak256("Transfer(address,address,uint256)").
	TransferEventID = erc20ABI.Events["Transfer"].ID
)

// DecodeTransfers yields the ERC-20 Transfer events emitted by asset, in log order.
// Logs from other contracts or with another shape are skipped. The sequence can be
// ranged over more than once.
func DecodeTransfers(logs []*ethtypes.Log, asset common.Address) iter.Seq[x402types.TransferEvent] {
	return func(yield func(x402types.TransferEvent) bool) {
		for _, l := range logs {
			ev, ok := decodeTransfer(l, asset)
			if !ok {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func decodeTransfer(l *ethtypes.Log, asset common.Address) (x402types.TransferEvent, bool) {
	if l == nil || l.Removed || l.Address != asset {
		return x402types.TransferEvent{}, false
	}
	// ERC-721 Transfer shares the signature but indexes tokenId as a fourth topic.
	if len(l.Topics) != 3 || l.Topics[0] != TransferEventID {
		return x402types.TransferEvent{}, false
	}
	if len(l.Data) != 32 {
		return x402types.TransferEvent{}, false
	}

	values, err := erc20ABI.Unpack("Transfer", l.Data)
	if err != nil || len(values) != 1 {
		return x402types.TransferEvent{}, false
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return x402types.TransferEvent{}, false
	}

	return x402types.TransferEvent{
		From:          common.BytesToAddress(l.Topics[1].Bytes()),
		To:            common.BytesToAddress(l.Topics[2].Bytes()),
		Amount:        amount,
		AssetContract: l.Address,
		LogIndex:      l.Index,
	}, true
}
