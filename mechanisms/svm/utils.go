package svm

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// base58, 32-44 characters
var solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// NormalizeNetwork converts legacy network names to CAIP-2 and validates
// that the network is supported.
func NormalizeNetwork(network string) (string, error) {
	if strings.Contains(network, ":") {
		if _, ok := NetworkConfigs[network]; ok {
			return network, nil
		}
		return "", fmt.Errorf("unsupported Solana network: %s", network)
	}

	caip2, ok := V1ToV2NetworkMap[network]
	if !ok {
		return "", fmt.Errorf("unsupported Solana network: %s", network)
	}
	return caip2, nil
}

// IsValidNetwork reports whether the network is supported, in either
// CAIP-2 or legacy name form.
func IsValidNetwork(network string) bool {
	_, err := NormalizeNetwork(network)
	return err == nil
}

// GetNetworkConfig returns the configuration for a network.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	caip2, err := NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	config := NetworkConfigs[caip2]
	return &config, nil
}

// GetAssetInfo returns token metadata for the given mint on the network.
// An empty asset selects the network's default stablecoin; unknown mints
// come back with Solana's default decimals.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if asset == "" || asset == config.DefaultAsset.Address {
		info := config.DefaultAsset
		return &info, nil
	}
	if !ValidateSolanaAddress(asset) {
		return nil, fmt.Errorf("invalid asset address: %s", asset)
	}
	return &AssetInfo{
		Address:  asset,
		Symbol:   "UNKNOWN",
		Decimals: 9,
	}, nil
}

// ValidateSolanaAddress reports whether address is a well-formed base58
// public key.
func ValidateSolanaAddress(address string) bool {
	if !solanaAddressRegex.MatchString(address) {
		return false
	}
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// ParseAmount converts a decimal string amount to token base units.
func ParseAmount(amount string, decimals int) (uint64, error) {
	amount = strings.TrimSpace(amount)

	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("invalid amount format: %s", amount)
	}

	intPart, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer part: %s", parts[0])
	}

	decPart := uint64(0)
	if len(parts) == 2 && parts[1] != "" {
		decStr := parts[1]
		if len(decStr) > decimals {
			return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
		}
		decStr += strings.Repeat("0", decimals-len(decStr))
		decPart, err = strconv.ParseUint(decStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid decimal part: %s", parts[1])
		}
	}

	multiplier := uint64(math.Pow10(decimals))
	if intPart > 0 && multiplier > math.MaxUint64/intPart {
		return 0, fmt.Errorf("amount overflows: %s", amount)
	}
	return intPart*multiplier + decPart, nil
}

// FormatAmount converts base units back to a decimal string.
func FormatAmount(amount uint64, decimals int) string {
	divisor := uint64(math.Pow10(decimals))
	quotient := amount / divisor
	remainder := amount % divisor

	decStr := strings.TrimRight(fmt.Sprintf("%0*d", decimals, remainder), "0")
	if decStr == "" {
		return strconv.FormatUint(quotient, 10)
	}
	return fmt.Sprintf("%d.%s", quotient, decStr)
}

// DecodeTransaction decodes a base64-encoded Solana transaction.
func DecodeTransaction(base64Tx string) (*solana.Transaction, error) {
	txBytes, err := base64.StdEncoding.DecodeString(base64Tx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}

// EncodeTransaction serializes a transaction to base64.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// GetTokenPayerFromTransaction extracts the authority of the first
// TransferChecked instruction, the account actually paying the token amount.
func GetTokenPayerFromTransaction(tx *solana.Transaction) (string, error) {
	if tx == nil || tx.Message.Instructions == nil {
		return "", fmt.Errorf("invalid transaction: nil transaction or instructions")
	}

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		programID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if programID != solana.TokenProgramID && programID != solana.Token2022ProgramID {
			continue
		}

		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			continue
		}
		decoded, err := token.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			continue
		}
		if _, ok := decoded.Impl.(*token.TransferChecked); ok {
			// TransferChecked accounts: source, mint, destination, authority
			if len(accounts) >= 4 {
				return accounts[3].PublicKey.String(), nil
			}
		}
	}

	return "", fmt.Errorf("no TransferChecked instruction found in transaction")
}

// IsSignedBy reports whether the transaction carries a non-empty signature
// from the given key.
func IsSignedBy(tx *solana.Transaction, key solana.PublicKey) bool {
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	for i, account := range tx.Message.AccountKeys {
		if i >= numSigners {
			break
		}
		if !account.Equals(key) {
			continue
		}
		if i < len(tx.Signatures) && !tx.Signatures[i].IsZero() {
			return true
		}
	}
	return false
}
