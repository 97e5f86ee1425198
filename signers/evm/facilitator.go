package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/qntx/x402/mechanisms/evm"
)

// DefaultReceiptTimeout bounds how long settlement waits for a receipt.
const DefaultReceiptTimeout = 30 * time.Second

// receiptPollInterval is the delay between receipt polls.
const receiptPollInterval = 500 * time.Millisecond

// FacilitatorConfig configures a facilitator signer for one chain.
type FacilitatorConfig struct {
	// RPCURL is the primary RPC endpoint.
	RPCURL string

	// FallbackRPCURLs are tried in order when the primary fails to dial.
	FallbackRPCURLs []string

	// PrivateKeys are hex-encoded signer keys. Settlements round-robin
	// across them so concurrent requests do not serialize on one nonce
	// sequence.
	PrivateKeys []string

	// ReceiptTimeout bounds the wait for transaction inclusion. Zero means
	// DefaultReceiptTimeout.
	ReceiptTimeout time.Duration

	// EIP1559 selects dynamic-fee transactions; legacy gas price otherwise.
	EIP1559 bool
}

// account pairs a signing key with its pending-nonce tracker.
type account struct {
	key     *ecdsa.PrivateKey
	address common.Address
	nonces  *nonceTracker
}

// FacilitatorSigner implements x402evm.FacilitatorEvmSigner over ethclient.
type FacilitatorSigner struct {
	client         *ethclient.Client
	accounts       []*account
	nextAccount    atomic.Uint64
	receiptTimeout time.Duration
	eip1559        bool

	chainIDOnce sync.Once
	chainID     *big.Int
	chainIDErr  error
}

// NewFacilitatorSigner dials the configured endpoints and prepares the signer
// accounts. At least one private key is required.
func NewFacilitatorSigner(config FacilitatorConfig) (*FacilitatorSigner, error) {
	if len(config.PrivateKeys) == 0 {
		return nil, fmt.Errorf("at least one private key is required")
	}

	endpoints := append([]string{config.RPCURL}, config.FallbackRPCURLs...)
	var client *ethclient.Client
	var dialErr error
	for _, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		client, dialErr = ethclient.Dial(endpoint)
		if dialErr == nil {
			break
		}
	}
	if client == nil {
		return nil, fmt.Errorf("failed to dial any RPC endpoint: %w", dialErr)
	}

	accounts := make([]*account, 0, len(config.PrivateKeys))
	for i, keyHex := range config.PrivateKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key %d: %w", i, err)
		}
		accounts = append(accounts, &account{
			key:     key,
			address: crypto.PubkeyToAddress(key.PublicKey),
			nonces:  newNonceTracker(),
		})
	}

	timeout := config.ReceiptTimeout
	if timeout == 0 {
		timeout = DefaultReceiptTimeout
	}

	return &FacilitatorSigner{
		client:         client,
		accounts:       accounts,
		receiptTimeout: timeout,
		eip1559:        config.EIP1559,
	}, nil
}

// GetAddresses returns the hex addresses settlements can be sent from.
func (s *FacilitatorSigner) GetAddresses() []string {
	out := make([]string, len(s.accounts))
	for i, acct := range s.accounts {
		out[i] = acct.address.Hex()
	}
	return out
}

// GetChainID returns the connected chain's id, cached after the first call.
func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	s.chainIDOnce.Do(func() {
		s.chainID, s.chainIDErr = s.client.ChainID(ctx)
	})
	return s.chainID, s.chainIDErr
}

// GetCode returns the deployed bytecode at address.
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return s.client.CodeAt(ctx, common.HexToAddress(address), nil)
}

// GetHeadTimestamp returns the latest block timestamp.
func (s *FacilitatorSigner) GetHeadTimestamp(ctx context.Context) (uint64, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch head: %w", err)
	}
	return header.Time, nil
}

// ReadContract performs an eth_call and returns the single decoded output.
func (s *FacilitatorSigner) ReadContract(
	ctx context.Context,
	address string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", functionName, err)
	}

	to := common.HexToAddress(address)
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s failed: %w", functionName, err)
	}

	outputs, err := contractABI.Unpack(functionName, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", functionName, err)
	}
	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}

// multicall3Call mirrors the aggregate3 input tuple.
type multicall3Call struct {
	Target       common.Address `abi:"target"`
	AllowFailure bool           `abi:"allowFailure"`
	CallData     []byte         `abi:"callData"`
}

// multicall3Result mirrors the aggregate3 output tuple.
type multicall3Result struct {
	Success    bool   `abi:"success"`
	ReturnData []byte `abi:"returnData"`
}

// Multicall batches reads through Multicall3.aggregate3 with allowFailure
// set, so one reverting probe does not fail the batch. If the batch itself
// cannot be executed the calls fall back to sequential eth_calls.
func (s *FacilitatorSigner) Multicall(ctx context.Context, calls []x402evm.ContractCall) ([]x402evm.MulticallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	parsedABIs := make([]abi.ABI, len(calls))
	packed := make([]multicall3Call, len(calls))
	for i, call := range calls {
		parsed, err := abi.JSON(strings.NewReader(string(call.ABI)))
		if err != nil {
			return nil, fmt.Errorf("call %d: failed to parse ABI: %w", i, err)
		}
		data, err := parsed.Pack(call.FunctionName, call.Args...)
		if err != nil {
			return nil, fmt.Errorf("call %d: failed to pack %s: %w", i, call.FunctionName, err)
		}
		parsedABIs[i] = parsed
		packed[i] = multicall3Call{
			Target:       common.HexToAddress(call.Address),
			AllowFailure: true,
			CallData:     data,
		}
	}

	raw, err := s.aggregate3(ctx, packed)
	if err != nil {
		return s.sequentialCalls(ctx, calls)
	}

	results := make([]x402evm.MulticallResult, len(calls))
	for i, r := range raw {
		if !r.Success {
			results[i] = x402evm.MulticallResult{Success: false}
			continue
		}
		outputs, err := parsedABIs[i].Unpack(calls[i].FunctionName, r.ReturnData)
		if err != nil || len(outputs) == 0 {
			results[i] = x402evm.MulticallResult{Success: false}
			continue
		}
		results[i] = x402evm.MulticallResult{Success: true, Value: outputs[0]}
	}
	return results, nil
}

func (s *FacilitatorSigner) aggregate3(ctx context.Context, calls []multicall3Call) ([]multicall3Result, error) {
	multicallABI, err := abi.JSON(strings.NewReader(string(x402evm.Multicall3ABI)))
	if err != nil {
		return nil, err
	}
	data, err := multicallABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3: %w", err)
	}

	to := common.HexToAddress(x402evm.Multicall3Address)
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregate3 call failed: %w", err)
	}

	outputs, err := multicallABI.Unpack("aggregate3", raw)
	if err != nil || len(outputs) != 1 {
		return nil, fmt.Errorf("failed to unpack aggregate3 result: %w", err)
	}
	results := *abi.ConvertType(outputs[0], new([]multicall3Result)).(*[]multicall3Result)
	return results, nil
}

// sequentialCalls is the degraded path when Multicall3 is unavailable.
func (s *FacilitatorSigner) sequentialCalls(ctx context.Context, calls []x402evm.ContractCall) ([]x402evm.MulticallResult, error) {
	results := make([]x402evm.MulticallResult, len(calls))
	for i, call := range calls {
		value, err := s.ReadContract(ctx, call.Address, call.ABI, call.FunctionName, call.Args...)
		if err != nil {
			results[i] = x402evm.MulticallResult{Success: false}
			continue
		}
		results[i] = x402evm.MulticallResult{Success: true, Value: value}
	}
	return results, nil
}

// GetBalance returns the ERC-20 balance of address for tokenAddress.
func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	result, err := s.ReadContract(ctx, tokenAddress, x402evm.ERC20BalanceOfABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

// WriteContract packs and submits a state-changing transaction, returning
// its hash without waiting for inclusion.
func (s *FacilitatorSigner) WriteContract(
	ctx context.Context,
	address string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", functionName, err)
	}
	return s.SendTransaction(ctx, address, data)
}

// SendTransaction submits a raw call with the given calldata from the next
// round-robined signer account.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	acct := s.accounts[s.nextAccount.Add(1)%uint64(len(s.accounts))]

	chainID, err := s.GetChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve chain id: %w", err)
	}

	if !acct.nonces.Seeded() {
		pending, err := s.client.PendingNonceAt(ctx, acct.address)
		if err != nil {
			return "", fmt.Errorf("failed to seed nonce for %s: %w", acct.address.Hex(), err)
		}
		acct.nonces.Seed(pending)
	}
	nonce := acct.nonces.Reserve()

	toAddr := common.HexToAddress(to)
	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: acct.address,
		To:   &toAddr,
		Data: data,
	})
	if err != nil {
		acct.nonces.Release(nonce)
		return "", fmt.Errorf("gas estimation failed: %w", err)
	}

	tx, err := s.buildTransaction(ctx, chainID, nonce, toAddr, gasLimit, data)
	if err != nil {
		acct.nonces.Release(nonce)
		return "", err
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), acct.key)
	if err != nil {
		acct.nonces.Release(nonce)
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		acct.nonces.Release(nonce)
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	acct.nonces.Confirm(nonce)

	return signedTx.Hash().Hex(), nil
}

func (s *FacilitatorSigner) buildTransaction(
	ctx context.Context,
	chainID *big.Int,
	nonce uint64,
	to common.Address,
	gasLimit uint64,
	data []byte,
) (*types.Transaction, error) {
	if s.eip1559 {
		tipCap, err := s.client.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
		header, err := s.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch head for base fee: %w", err)
		}
		// feeCap = 2*baseFee + tip leaves headroom for base-fee growth
		// across a few blocks.
		feeCap := new(big.Int).Add(
			new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
			tipCap,
		)
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Data:      data,
		}), nil
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Data:     data,
	}), nil
}

// WaitForTransactionReceipt polls until the transaction is mined, the
// receipt timeout elapses, or ctx is cancelled.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			status := x402evm.TxStatusFailed
			if receipt.Status == types.ReceiptStatusSuccessful {
				status = x402evm.TxStatusSuccess
			}
			return &x402evm.TransactionReceipt{
				Status:      status,
				BlockNumber: receipt.BlockNumber,
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no receipt for %s within %s: %w", txHash, s.receiptTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
