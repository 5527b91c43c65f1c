// Package x402 wires the GENGE payment verifier: chain reads, the facilitator,
// the redemption ledger, the verification engines and mint publishing.
package x402

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/slavaghoul1337-coder/genge/clients"
	"github.com/slavaghoul1337-coder/genge/config"
	"github.com/slavaghoul1337-coder/genge/ledger"
	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/metrics"
	"github.com/slavaghoul1337-coder/genge/mint"
	"github.com/slavaghoul1337-coder/genge/resource"
	"github.com/slavaghoul1337-coder/genge/types"
	"github.com/slavaghoul1337-coder/genge/verification"
)

// MintQuantities are the quantities POST /mint/{amount} accepts.
var MintQuantities = []int{1, 3}

// X402 is the assembled verifier.
type X402 struct {
	cfg *config.Config

	client    *clients.EVMClient
	ledger    ledger.Ledger
	verifier  *verification.Engine
	minter    *mint.Service
	attester  clients.Attester
	backend   clients.EthBackend
	publisher mint.Publisher

	verifyDesc types.X402Response
	mintDesc   types.X402Response

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
}

// New builds every component from cfg. Options replace individual collaborators.
func New(cfg *config.Config, opts ...Option) (*X402, error) {
	if cfg == nil {
		return nil, &types.X402Error{Code: types.ErrConfigError, Message: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	x := &X402{
		cfg:     cfg,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: cfg.VerificationBudget(),
	}
	if x.timeout <= 0 {
		x.timeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(x)
	}

	minimum, err := cfg.MinimumAmount()
	if err != nil {
		return nil, err
	}
	unitPrice, err := cfg.MintPriceUnits()
	if err != nil {
		return nil, err
	}

	evmCfg := clients.EVMConfig{
		Network:     types.Network(cfg.Network),
		RPCURL:      cfg.RPCURL,
		Asset:       cfg.AssetContract(),
		NFTContract: cfg.NFTContract(),
		Timeout:     cfg.RPCTimeout,
	}
	if x.backend != nil {
		x.client = clients.NewEVMClientWithBackend(evmCfg, x.backend, x.logger)
	} else {
		x.client, err = clients.NewEVMClient(evmCfg, x.logger)
		if err != nil {
			return nil, err
		}
	}

	if x.attester == nil {
		x.attester = clients.NewFacilitatorClient(cfg.X402API, cfg.X402APIKey, cfg.FacilitatorTimeout, x.logger)
	}

	if x.ledger == nil {
		x.ledger, err = openLedger(context.Background(), cfg, x.logger)
		if err != nil {
			x.client.Close()
			return nil, err
		}
	}

	var owner clients.OwnershipReader
	if x.client.HasOwnershipContract() {
		owner = x.client
	}
	recipient := cfg.PayToAddress()

	x.verifier = x.engine(verification.DefaultStrategies(x.attester, x.client, owner, recipient, minimum))

	engines := make(map[int]verification.Verifier, len(MintQuantities))
	for _, q := range MintQuantities {
		price := new(big.Int).Mul(unitPrice, big.NewInt(int64(q)))
		// Mint claims pay for new tokens, so holding one is not evidence.
		engines[q] = x.engine(verification.DefaultStrategies(x.attester, x.client, nil, recipient, price))
	}
	if x.publisher == nil {
		x.publisher = mint.NewPublisher(cfg.RabbitMQURL, cfg.MintExchange, cfg.MintRoutingKey, x.logger)
	}
	x.minter = mint.NewService(engines, x.publisher, x.logger)

	x.verifyDesc = resource.Describe(resource.Requirements{
		RequiredAmount: minimum,
		Recipient:      recipient,
		Asset:          cfg.AssetSymbol,
		AssetAddress:   cfg.AssetContract(),
		AssetDecimals:  cfg.AssetDecimals,
		Network:        types.Network(cfg.Network),
		Resource:       cfg.BaseURL + "/verifyOwnership",
		Description:    "Verify ownership of GENGE NFT or payment transaction",
		Category:       "Verification",
		Input:          resource.VerifyOwnershipInput,
		TimeoutSeconds: timeoutSeconds(x.timeout),
	})
	x.mintDesc = resource.Describe(resource.Requirements{
		RequiredAmount: unitPrice,
		Recipient:      recipient,
		Asset:          cfg.AssetSymbol,
		AssetAddress:   cfg.AssetContract(),
		AssetDecimals:  cfg.AssetDecimals,
		Network:        types.Network(cfg.Network),
		Resource:       cfg.BaseURL + "/mint",
		Description:    fmt.Sprintf("Mint GENGE NFT for $%s", resource.FromBaseUnits(unitPrice, cfg.AssetDecimals)),
		Category:       "Minting",
		Input:          resource.MintInput,
		Payer:          recipient.Hex(),
		TimeoutSeconds: timeoutSeconds(x.timeout),
	})

	for _, desc := range []types.X402Response{x.verifyDesc, x.mintDesc} {
		if err := desc.Accepts[0].Validate(); err != nil {
			x.Close()
			return nil, &types.X402Error{Code: types.ErrConfigError, Message: err.Error()}
		}
	}

	network := types.Network(cfg.Network)
	x.logger.Info("verifier ready", map[string]any{
		"network":     cfg.Network,
		"chain_id":    network.ChainID().String(),
		"testnet":     network.IsTestnet(),
		"ledger":      cfg.LedgerBackend,
		"minimum":     minimum.String(),
		"ownership":   owner != nil,
		"facilitator": x.attester.Configured(),
	})
	return x, nil
}

func (x *X402) engine(strategies []verification.Strategy) *verification.Engine {
	return verification.NewEngine(x.ledger, x.client, strategies,
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
		verification.WithTimeout(x.timeout),
	)
}

// timeoutSeconds rounds d up so clients never give up before the engine does.
func timeoutSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func openLedger(ctx context.Context, cfg *config.Config, log logger.Logger) (ledger.Ledger, error) {
	switch cfg.LedgerBackend {
	case config.LedgerSQLite:
		return ledger.OpenSQLite(cfg.LedgerSQLitePath)
	case config.LedgerRedis:
		return ledger.OpenRedis(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, cfg.ReservationTTL)
	default:
		if cfg.AuditLogPath == "" {
			return ledger.NewMemory(ledger.WithMemoryLogger(log)), nil
		}
		return ledger.NewMemoryWithAuditFile(cfg.AuditLogPath, ledger.WithMemoryLogger(log))
	}
}

// Verify decides a claim against MIN_AMOUNT_REQUIRED and the ownership contract.
func (x *X402) Verify(ctx context.Context, claim *types.PaymentClaim) (*types.VerificationDecision, error) {
	return x.verifier.Verify(ctx, claim)
}

// BatchVerify decides several claims concurrently.
func (x *X402) BatchVerify(ctx context.Context, claims []*types.PaymentClaim) ([]verification.BatchResult, error) {
	if len(claims) == 0 {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "at least one claim is required",
		}
	}
	return x.verifier.BatchVerify(ctx, claims)
}

// Mint verifies claim at quantity times MINT_PRICE and publishes the authorization.
func (x *X402) Mint(ctx context.Context, claim *types.PaymentClaim, quantity int) (*types.VerificationDecision, *mint.Authorization, error) {
	return x.minter.Mint(ctx, claim, quantity)
}

// Lookup returns the committed redemption for txRef.
func (x *X402) Lookup(ctx context.Context, txRef string) (*types.RedemptionRecord, error) {
	return x.ledger.Lookup(ctx, txRef)
}

func (x *X402) Describe() types.X402Response { return x.verifyDesc }

func (x *X402) DescribeMint() types.X402Response { return x.mintDesc }

func (x *X402) Config() *config.Config { return x.cfg }

// Close releases the chain client, the publisher and the ledger.
func (x *X402) Close() error {
	x.client.Close()
	x.minter.Close()
	return x.ledger.Close()
}
