package evm

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// erc6492MagicSuffix is the 32-byte marker at the end of every ERC-6492
// wrapped signature.
var erc6492MagicSuffix = common.FromHex(ERC6492MagicValue)

// HasERC6492Suffix reports whether the signature carries the ERC-6492
// wrapper marker.
func HasERC6492Suffix(signature []byte) bool {
	if len(signature) < 32 {
		return false
	}
	return bytes.Equal(signature[len(signature)-32:], erc6492MagicSuffix)
}

// ParseERC6492Signature decodes the wrapper prefix of an ERC-6492 signature:
// abi.encode(factory, factoryCalldata, innerSignature) || magicSuffix.
func ParseERC6492Signature(signature []byte) (*ERC6492SignatureData, error) {
	if !HasERC6492Suffix(signature) {
		return nil, fmt.Errorf("signature does not carry the ERC-6492 suffix")
	}
	encoded := signature[:len(signature)-32]

	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{
		{Type: addressType},
		{Type: bytesType},
		{Type: bytesType},
	}

	values, err := args.Unpack(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ERC-6492 wrapper: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected ERC-6492 wrapper arity: %d", len(values))
	}

	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid ERC-6492 factory field")
	}
	factoryCalldata, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid ERC-6492 factoryCalldata field")
	}
	innerSignature, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid ERC-6492 innerSignature field")
	}

	return &ERC6492SignatureData{
		Factory:         factory.Hex(),
		FactoryCalldata: factoryCalldata,
		InnerSignature:  innerSignature,
	}, nil
}

// NormalizeSignature expands an ERC-2098 compact 64-byte signature into the
// canonical 65-byte r||s||v form. 65-byte signatures pass through with v
// normalized to 27/28.
func NormalizeSignature(signature []byte) ([]byte, error) {
	switch len(signature) {
	case 64:
		// ERC-2098: s carries the y-parity in its top bit
		out := make([]byte, 65)
		copy(out[:32], signature[:32])
		copy(out[32:64], signature[32:64])
		yParity := signature[32] >> 7
		out[32] &= 0x7f
		out[64] = 27 + yParity
		return out, nil
	case 65:
		out := make([]byte, 65)
		copy(out, signature)
		if out[64] < 27 {
			out[64] += 27
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected signature length: %d", len(signature))
	}
}

// RecoverSigner recovers the EOA address that produced signature over hash.
func RecoverSigner(hash []byte, signature []byte) (string, error) {
	normalized, err := NormalizeSignature(signature)
	if err != nil {
		return "", err
	}

	// go-ethereum expects the recovery id in the 0/1 range
	recoverSig := make([]byte, 65)
	copy(recoverSig, normalized)
	recoverSig[64] -= 27

	pubKey, err := crypto.SigToPub(hash, recoverSig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// VerifyUniversalSignature checks a signature of any supported kind against
// the expected signer.
//
// Plain 64/65-byte signatures from addresses without deployed code are
// verified locally via ECDSA recovery. Everything else (deployed EIP-1271
// wallets and ERC-6492 wrapped signatures for counterfactual wallets) is
// delegated to the on-chain UniversalSigValidator.
func VerifyUniversalSignature(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	expectedSigner string,
	hash []byte,
	signature []byte,
) (bool, error) {
	if len(signature) == 64 || len(signature) == 65 {
		code, err := signer.GetCode(ctx, expectedSigner)
		if err != nil {
			return false, fmt.Errorf("failed to check signer code: %w", err)
		}
		if len(code) == 0 {
			recovered, err := RecoverSigner(hash, signature)
			if err != nil {
				return false, nil
			}
			return strings.EqualFold(recovered, expectedSigner), nil
		}
	}

	var hash32 [32]byte
	copy(hash32[:], hash)
	result, err := signer.ReadContract(
		ctx,
		UniversalSigValidatorAddress,
		UniversalSigValidatorABI,
		"isValidSig",
		common.HexToAddress(expectedSigner),
		hash32,
		signature,
	)
	if err != nil {
		return false, fmt.Errorf("universal signature validation failed: %w", err)
	}
	valid, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isValidSig result type %T", result)
	}
	return valid, nil
}
