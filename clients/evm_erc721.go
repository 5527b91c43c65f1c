package clients

const erc721OwnerOfABI = `[{
	"type": "function",
	"name": "ownerOf",
	"stateMutability": "view",
	"inputs":  [{"name": "tokenId", "type": "uint256"}],
	"outputs": [{"name": "", "type": "address"}]
}]`
