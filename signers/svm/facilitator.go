package svm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402svm "github.com/qntx/x402/mechanisms/svm"
)

// NetworkConfig configures one Solana network for the facilitator signer.
type NetworkConfig struct {
	// RPCURL is the RPC endpoint. Empty selects the network's built-in
	// default endpoint.
	RPCURL string

	// PrivateKeys are base58-encoded fee-payer keys.
	PrivateKeys []string
}

// FacilitatorConfig configures the facilitator signer across networks keyed
// by CAIP-2 identifier.
type FacilitatorConfig struct {
	Networks map[string]NetworkConfig

	// Commitment is the level simulation and confirmation wait for. Zero
	// value selects the package default (confirmed).
	Commitment rpc.CommitmentType

	// ConfirmTimeout bounds settlement confirmation polling. Zero means
	// the attempt budget (MaxConfirmAttempts * ConfirmRetryDelay) applies
	// alone.
	ConfirmTimeout time.Duration
}

// networkState holds the per-network RPC client and key set.
type networkState struct {
	client *rpc.Client
	keys   map[solana.PublicKey]solana.PrivateKey
	order  []solana.PublicKey
}

// FacilitatorSigner implements x402svm.FacilitatorSvmSigner over the Solana
// JSON-RPC API.
type FacilitatorSigner struct {
	networks       map[string]*networkState
	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
}

// NewFacilitatorSigner builds the signer, resolving default RPC endpoints
// for known networks. Every configured network needs at least one key.
func NewFacilitatorSigner(config FacilitatorConfig) (*FacilitatorSigner, error) {
	if len(config.Networks) == 0 {
		return nil, fmt.Errorf("at least one network is required")
	}

	networks := make(map[string]*networkState, len(config.Networks))
	for network, netConfig := range config.Networks {
		caip2, err := x402svm.NormalizeNetwork(network)
		if err != nil {
			return nil, err
		}
		if len(netConfig.PrivateKeys) == 0 {
			return nil, fmt.Errorf("network %s: at least one private key is required", network)
		}

		rpcURL := netConfig.RPCURL
		if rpcURL == "" {
			networkDefaults, err := x402svm.GetNetworkConfig(caip2)
			if err != nil {
				return nil, err
			}
			rpcURL = networkDefaults.RPCURL
		}

		state := &networkState{
			client: rpc.New(rpcURL),
			keys:   make(map[solana.PublicKey]solana.PrivateKey, len(netConfig.PrivateKeys)),
		}
		for i, keyBase58 := range netConfig.PrivateKeys {
			key, err := solana.PrivateKeyFromBase58(keyBase58)
			if err != nil {
				return nil, fmt.Errorf("network %s: invalid private key %d: %w", network, i, err)
			}
			pub := key.PublicKey()
			if _, dup := state.keys[pub]; !dup {
				state.keys[pub] = key
				state.order = append(state.order, pub)
			}
		}
		networks[caip2] = state
	}

	commitment := config.Commitment
	if commitment == "" {
		commitment = x402svm.DefaultCommitment
	}

	return &FacilitatorSigner{
		networks:       networks,
		commitment:     commitment,
		confirmTimeout: config.ConfirmTimeout,
	}, nil
}

func (s *FacilitatorSigner) network(network string) (*networkState, error) {
	caip2, err := x402svm.NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	state, ok := s.networks[caip2]
	if !ok {
		return nil, fmt.Errorf("network %s is not configured", network)
	}
	return state, nil
}

// GetAddresses returns all fee-payer addresses available on network.
func (s *FacilitatorSigner) GetAddresses(ctx context.Context, network string) []solana.PublicKey {
	state, err := s.network(network)
	if err != nil {
		return nil
	}
	out := make([]solana.PublicKey, len(state.order))
	copy(out, state.order)
	return out
}

// SignTransaction signs tx in place with the key matching feePayer.
func (s *FacilitatorSigner) SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	state, err := s.network(network)
	if err != nil {
		return err
	}
	key, ok := state.keys[feePayer]
	if !ok {
		return fmt.Errorf("fee payer %s is not managed on %s", feePayer, network)
	}
	return signWithKey(key, tx)
}

// SimulateTransaction simulates the signed transaction and returns an error
// on any program failure.
func (s *FacilitatorSigner) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	state, err := s.network(network)
	if err != nil {
		return err
	}

	result, err := state.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return fmt.Errorf("simulation request failed: %w", err)
	}
	if result.Value != nil && result.Value.Err != nil {
		return fmt.Errorf("program error: %v", result.Value.Err)
	}
	return nil
}

// GetTokenAccountBalance returns the token balance of a token account in
// base units.
func (s *FacilitatorSigner) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, network string) (uint64, error) {
	state, err := s.network(network)
	if err != nil {
		return 0, err
	}

	result, err := state.client.GetTokenAccountBalance(ctx, account, s.commitment)
	if err != nil {
		return 0, fmt.Errorf("getTokenAccountBalance failed: %w", err)
	}
	if result.Value == nil {
		return 0, fmt.Errorf("token account %s not found", account)
	}
	balance, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid balance amount %q: %w", result.Value.Amount, err)
	}
	return balance, nil
}

// SendTransaction submits the transaction with preflight skipped; the
// verify path already simulated it.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	state, err := s.network(network)
	if err != nil {
		return solana.Signature{}, err
	}

	signature, err := state.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction failed: %w", err)
	}
	return signature, nil
}

// ConfirmTransaction polls the signature status until the configured
// commitment is reached, the attempt budget runs out, or ctx is cancelled.
func (s *FacilitatorSigner) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	state, err := s.network(network)
	if err != nil {
		return err
	}

	if s.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.confirmTimeout)
		defer cancel()
	}

	for attempt := 0; attempt < x402svm.MaxConfirmAttempts; attempt++ {
		statuses, err := state.client.GetSignatureStatuses(ctx, true, signature)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on chain: %v", status.Err)
			}
			if reached(status.ConfirmationStatus, s.commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait cancelled: %w", ctx.Err())
		case <-time.After(x402svm.ConfirmRetryDelay):
		}
	}
	return fmt.Errorf("transaction %s not confirmed after %d attempts", signature, x402svm.MaxConfirmAttempts)
}

// reached reports whether the observed confirmation status satisfies the
// wanted commitment. Finalized satisfies confirmed, never the reverse.
func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	default:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	}
}

var _ x402svm.FacilitatorSvmSigner = (*FacilitatorSigner)(nil)
