package types

import "math/big"

// Network represents supported EVM networks
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
)

var networkChainIDs = map[Network]int64{
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
}

// IsSupported reports whether the network has a known chain id.
func (n Network) IsSupported() bool {
	_, ok := networkChainIDs[n]
	return ok
}

// ChainID returns the EIP-155 chain id, or nil for unknown networks.
func (n Network) ChainID() *big.Int {
	id, ok := networkChainIDs[n]
	if !ok {
		return nil
	}
	return big.NewInt(id)
}

func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia || n == NetworkPolygonAmoy
}

func (n Network) String() string {
	return string(n)
}
