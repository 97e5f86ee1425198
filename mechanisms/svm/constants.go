package svm

import (
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	// SchemeExact is the scheme identifier for exact payments.
	SchemeExact = "exact"

	// CaipFamilySvm is the CAIP family pattern for all Solana networks.
	CaipFamilySvm = "solana:*"

	// DefaultDecimals is the default token decimals for USDC.
	DefaultDecimals = 6

	// DefaultComputeUnitPriceMicrolamports is the price clients attach by
	// default.
	DefaultComputeUnitPriceMicrolamports = 1

	// MaxComputeUnitPriceMicrolamports is the facilitator's ceiling on the
	// compute unit price. 5 lamports per compute unit.
	MaxComputeUnitPriceMicrolamports uint64 = 5_000_000

	// DefaultComputeUnitLimit is the compute unit limit clients request;
	// a bare TransferChecked needs well under this.
	DefaultComputeUnitLimit uint32 = 8000

	// MaxComputeUnitLimit is the facilitator's ceiling on the requested
	// compute unit limit, the network's per-transaction maximum.
	MaxComputeUnitLimit uint32 = 1_400_000

	// DefaultMaxInstructionCount bounds the total instruction count the
	// facilitator accepts.
	DefaultMaxInstructionCount = 10

	// RequiredInstructionCount is the minimum transaction shape:
	// SetComputeUnitLimit, SetComputeUnitPrice, TransferChecked.
	RequiredInstructionCount = 3

	// ComputeBudget instruction discriminators.
	ComputeBudgetSetLimitDiscriminator = 2
	ComputeBudgetSetPriceDiscriminator = 3

	// DefaultCommitment is the commitment level used for simulation and
	// confirmation.
	DefaultCommitment = rpc.CommitmentConfirmed

	// MaxConfirmAttempts caps signature-status polling during settlement.
	MaxConfirmAttempts = 30

	// ConfirmRetryDelay is the delay between confirmation polls.
	ConfirmRetryDelay = 1 * time.Second

	// CAIP-2 network identifiers.
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"

	// Legacy v1 network names.
	SolanaMainnetV1 = "solana"
	SolanaDevnetV1  = "solana-devnet"
	SolanaTestnetV1 = "solana-testnet"

	// USDC mint addresses.
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	USDCTestnetAddress = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

var (
	// LighthouseProgramID is Phantom's Lighthouse assertion program.
	// Phantom appends Lighthouse guard instructions to transactions it
	// signs, so it is allowed by default.
	LighthouseProgramID = solana.MustPublicKeyFromBase58("L2TExMFKdjpN9kozasaurPirfHy9P8sbXoAN1qA3S95")

	// NetworkConfigs maps CAIP-2 identifiers to network configurations.
	NetworkConfigs = map[string]NetworkConfig{
		SolanaMainnetCAIP2: {
			Name:   "Solana Mainnet",
			CAIP2:  SolanaMainnetCAIP2,
			RPCURL: "https://api.mainnet-beta.solana.com",
			DefaultAsset: AssetInfo{
				Address:  USDCMainnetAddress,
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
		SolanaDevnetCAIP2: {
			Name:   "Solana Devnet",
			CAIP2:  SolanaDevnetCAIP2,
			RPCURL: "https://api.devnet.solana.com",
			DefaultAsset: AssetInfo{
				Address:  USDCDevnetAddress,
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
		SolanaTestnetCAIP2: {
			Name:   "Solana Testnet",
			CAIP2:  SolanaTestnetCAIP2,
			RPCURL: "https://api.testnet.solana.com",
			DefaultAsset: AssetInfo{
				Address:  USDCTestnetAddress,
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
	}

	// V1ToV2NetworkMap maps legacy network names to CAIP-2 identifiers.
	V1ToV2NetworkMap = map[string]string{
		SolanaMainnetV1: SolanaMainnetCAIP2,
		SolanaDevnetV1:  SolanaDevnetCAIP2,
		SolanaTestnetV1: SolanaTestnetCAIP2,
	}
)
