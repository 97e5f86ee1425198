package svm

import (
	"strings"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
)

func TestNormalizeNetwork(t *testing.T) {
	tests := []struct {
		input       string
		expected    string
		shouldError bool
	}{
		{SolanaMainnetV1, SolanaMainnetCAIP2, false},
		{SolanaDevnetV1, SolanaDevnetCAIP2, false},
		{SolanaTestnetV1, SolanaTestnetCAIP2, false},
		{SolanaMainnetCAIP2, SolanaMainnetCAIP2, false},
		{SolanaDevnetCAIP2, SolanaDevnetCAIP2, false},
		{"ethereum", "", true},
		{"solana:unknown-reference", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeNetwork(tt.input)
		if tt.shouldError {
			if err == nil {
				t.Errorf("NormalizeNetwork(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeNetwork(%q): %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("NormalizeNetwork(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsValidNetwork(t *testing.T) {
	if !IsValidNetwork(SolanaMainnetV1) {
		t.Error("legacy mainnet name should be valid")
	}
	if !IsValidNetwork(SolanaDevnetCAIP2) {
		t.Error("devnet CAIP-2 should be valid")
	}
	if IsValidNetwork("base") {
		t.Error("EVM network name should not be valid")
	}
}

func TestGetNetworkConfig(t *testing.T) {
	tests := []struct {
		input        string
		expectedCAIP string
		shouldError  bool
	}{
		{SolanaMainnetV1, SolanaMainnetCAIP2, false},
		{SolanaDevnetV1, SolanaDevnetCAIP2, false},
		{SolanaTestnetCAIP2, SolanaTestnetCAIP2, false},
		{"not-a-network", "", true},
	}

	for _, tt := range tests {
		config, err := GetNetworkConfig(tt.input)
		if tt.shouldError {
			if err == nil {
				t.Errorf("GetNetworkConfig(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("GetNetworkConfig(%q): %v", tt.input, err)
			continue
		}
		if config.CAIP2 != tt.expectedCAIP {
			t.Errorf("GetNetworkConfig(%q).CAIP2 = %q, want %q", tt.input, config.CAIP2, tt.expectedCAIP)
		}
	}
}

func TestValidateSolanaAddress(t *testing.T) {
	valid := []string{
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"11111111111111111111111111111111",
	}
	for _, address := range valid {
		if !ValidateSolanaAddress(address) {
			t.Errorf("address %q should be valid", address)
		}
	}

	invalid := []string{
		"",
		"invalid",
		"0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v!!",
	}
	for _, address := range invalid {
		if ValidateSolanaAddress(address) {
			t.Errorf("address %q should be invalid", address)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		amount      string
		decimals    int
		expected    uint64
		shouldError bool
	}{
		{"1", 6, 1_000_000, false},
		{"1.5", 6, 1_500_000, false},
		{"0.000001", 6, 1, false},
		{"0", 6, 0, false},
		{"10.25", 2, 1025, false},
		{"1.2345678", 6, 0, true}, // more decimal places than the token carries
		{"1.2.3", 6, 0, true},
		{"abc", 6, 0, true},
		{"-1", 6, 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.amount, tt.decimals)
		if tt.shouldError {
			if err == nil {
				t.Errorf("ParseAmount(%q, %d): expected error", tt.amount, tt.decimals)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q, %d): %v", tt.amount, tt.decimals, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseAmount(%q, %d) = %d, want %d", tt.amount, tt.decimals, got, tt.expected)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals int
		expected string
	}{
		{1_000_000, 6, "1"},
		{1_500_000, 6, "1.5"},
		{1, 6, "0.000001"},
		{0, 6, "0"},
		{1025, 2, "10.25"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.amount, tt.decimals); got != tt.expected {
			t.Errorf("FormatAmount(%d, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.expected)
		}
	}
}

func TestGetAssetInfo(t *testing.T) {
	info, err := GetAssetInfo(SolanaMainnetCAIP2, "")
	if err != nil {
		t.Fatal(err)
	}
	if info.Address != USDCMainnetAddress || info.Decimals != DefaultDecimals {
		t.Errorf("default asset: %+v", info)
	}

	custom := "So11111111111111111111111111111111111111112"
	info, err = GetAssetInfo(SolanaMainnetV1, custom)
	if err != nil {
		t.Fatal(err)
	}
	if info.Address != custom || info.Symbol != "UNKNOWN" || info.Decimals != 9 {
		t.Errorf("unknown mint: %+v", info)
	}

	if _, err := GetAssetInfo(SolanaMainnetCAIP2, "not-base58"); err == nil {
		t.Error("expected error for malformed asset address")
	}
	if _, err := GetAssetInfo("eip155:8453", ""); err == nil {
		t.Error("expected error for non-Solana network")
	}
}

func TestPayloadFromMap(t *testing.T) {
	payload := &ExactSvmPayload{Transaction: "dHg="}
	parsed, err := PayloadFromMap(payload.ToMap())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Transaction != payload.Transaction {
		t.Errorf("round trip: %q != %q", parsed.Transaction, payload.Transaction)
	}

	if _, err := PayloadFromMap(map[string]interface{}{}); err == nil {
		t.Error("missing transaction field should fail")
	}
	if _, err := PayloadFromMap(map[string]interface{}{"transaction": 42}); err == nil {
		t.Error("non-string transaction should fail")
	}
}

// paymentTxParams describes the shape of a test payment transaction. Zero
// values fall back to a well-formed ComputeBudget + TransferChecked payment.
type paymentTxParams struct {
	cuLimit      uint32
	cuPrice      uint64
	amount       uint64
	payTo        solana.PublicKey
	skipBudget   bool
	extra        []solana.Instruction
	authority    *solana.Wallet
	authoritySig bool
}

type paymentTxFixture struct {
	payer    *solana.Wallet
	feePayer *solana.Wallet
	payTo    solana.PublicKey
	mint     solana.PublicKey
}

func newPaymentTxFixture() paymentTxFixture {
	return paymentTxFixture{
		payer:    solana.NewWallet(),
		feePayer: solana.NewWallet(),
		payTo:    solana.NewWallet().PublicKey(),
		mint:     solana.MustPublicKeyFromBase58(USDCMainnetAddress),
	}
}

func (f paymentTxFixture) expectation(amount string) TransferExpectation {
	return TransferExpectation{
		Mint:   f.mint.String(),
		PayTo:  f.payTo.String(),
		Amount: amount,
	}
}

// buildPaymentTx assembles the transaction shape the client scheme produces,
// with params overriding individual pieces.
func (f paymentTxFixture) buildPaymentTx(t *testing.T, params paymentTxParams) *solana.Transaction {
	t.Helper()

	if params.cuLimit == 0 {
		params.cuLimit = DefaultComputeUnitLimit
	}
	if params.cuPrice == 0 {
		params.cuPrice = DefaultComputeUnitPriceMicrolamports
	}
	if params.amount == 0 {
		params.amount = 10000
	}
	if params.payTo.IsZero() {
		params.payTo = f.payTo
	}
	authority := f.payer
	if params.authority != nil {
		authority = params.authority
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(authority.PublicKey(), f.mint)
	if err != nil {
		t.Fatal(err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(params.payTo, f.mint)
	if err != nil {
		t.Fatal(err)
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(params.amount).
		SetDecimals(DefaultDecimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(f.mint).
		SetDestinationAccount(destATA).
		SetOwnerAccount(authority.PublicKey()).
		ValidateAndBuild()
	if err != nil {
		t.Fatal(err)
	}

	builder := solana.NewTransactionBuilder()
	if !params.skipBudget {
		// Build without validation so tests can construct limits above the
		// library's own cap and exercise the policy's rejection path.
		cuLimit := computebudget.NewSetComputeUnitLimitInstructionBuilder().
			SetUnits(params.cuLimit).
			Build()
		cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
			SetMicroLamports(params.cuPrice).
			ValidateAndBuild()
		if err != nil {
			t.Fatal(err)
		}
		builder.AddInstruction(cuLimit).AddInstruction(cuPrice)
	}
	builder.AddInstruction(transferIx)
	for _, inst := range params.extra {
		builder.AddInstruction(inst)
	}

	tx, err := builder.
		SetRecentBlockHash(solana.MustHashFromBase58("11111111111111111111111111111111")).
		SetFeePayer(f.feePayer.PublicKey()).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	if params.authoritySig {
		_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(authority.PublicKey()) {
				return &authority.PrivateKey
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return tx
}

func TestPolicyAcceptsWellFormedPayment(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{})

	if err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil); err != nil {
		t.Errorf("valid payment rejected: %v", err)
	}
}

func TestPolicyRejectsShortTransaction(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{skipBudget: true})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonInvalidFormat {
		t.Errorf("expected %s, got %v", PolicyReasonInvalidFormat, err)
	}
}

func TestPolicyRejectsExcessiveComputeLimit(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{cuLimit: MaxComputeUnitLimit + 1})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonMaxComputeUnitLimitExceeded {
		t.Errorf("expected %s, got %v", PolicyReasonMaxComputeUnitLimitExceeded, err)
	}
}

func TestPolicyRejectsExcessiveComputePrice(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{cuPrice: MaxComputeUnitPriceMicrolamports + 1})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonMaxComputeUnitPriceExceeded {
		t.Errorf("expected %s, got %v", PolicyReasonMaxComputeUnitPriceExceeded, err)
	}
}

func TestPolicyRejectsWrongMint(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{})

	expectation := fixture.expectation("10000")
	expectation.Mint = USDCDevnetAddress

	err := DefaultPolicy().CheckTransaction(tx, expectation, nil)
	if err == nil || err.Reason != PolicyReasonRequirementMismatch {
		t.Errorf("expected %s, got %v", PolicyReasonRequirementMismatch, err)
	}
}

func TestPolicyRejectsWrongDestination(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{payTo: solana.NewWallet().PublicKey()})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonRequirementMismatch {
		t.Errorf("expected %s, got %v", PolicyReasonRequirementMismatch, err)
	}
	if err != nil && !strings.Contains(err.Message, "destination") {
		t.Errorf("message should name the destination: %s", err.Message)
	}
}

func TestPolicyRejectsUnderpayment(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{amount: 9999})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonRequirementMismatch {
		t.Errorf("expected %s, got %v", PolicyReasonRequirementMismatch, err)
	}
}

func TestPolicyRejectsFacilitatorSignerAsAuthority(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{})

	signers := []string{fixture.payer.PublicKey().String()}
	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), signers)
	if err == nil || err.Reason != PolicyReasonInvalidSignature {
		t.Errorf("expected %s, got %v", PolicyReasonInvalidSignature, err)
	}
}

func TestPolicyRejectsATACreation(t *testing.T) {
	fixture := newPaymentTxFixture()
	ataIx := solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(solana.NewWallet().PublicKey()).WRITE(),
		},
		[]byte{1}, // createIdempotent
	)
	tx := fixture.buildPaymentTx(t, paymentTxParams{extra: []solana.Instruction{ataIx}})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonCreateATANotSupported {
		t.Errorf("expected %s, got %v", PolicyReasonCreateATANotSupported, err)
	}
}

func TestPolicyAllowsLighthouseInstruction(t *testing.T) {
	fixture := newPaymentTxFixture()
	guardIx := solana.NewInstruction(
		LighthouseProgramID,
		solana.AccountMetaSlice{
			solana.Meta(solana.NewWallet().PublicKey()),
		},
		[]byte{0},
	)
	tx := fixture.buildPaymentTx(t, paymentTxParams{extra: []solana.Instruction{guardIx}})

	if err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil); err != nil {
		t.Errorf("Lighthouse guard instruction rejected: %v", err)
	}
}

func TestPolicyRejectsUnknownProgram(t *testing.T) {
	fixture := newPaymentTxFixture()
	strangerIx := solana.NewInstruction(
		solana.NewWallet().PublicKey(),
		solana.AccountMetaSlice{
			solana.Meta(solana.NewWallet().PublicKey()),
		},
		[]byte{0},
	)
	tx := fixture.buildPaymentTx(t, paymentTxParams{extra: []solana.Instruction{strangerIx}})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonProgramNotAllowed {
		t.Errorf("expected %s, got %v", PolicyReasonProgramNotAllowed, err)
	}
}

func TestPolicyRejectsBlockedProgram(t *testing.T) {
	fixture := newPaymentTxFixture()
	guardIx := solana.NewInstruction(
		LighthouseProgramID,
		solana.AccountMetaSlice{
			solana.Meta(solana.NewWallet().PublicKey()),
		},
		[]byte{0},
	)
	tx := fixture.buildPaymentTx(t, paymentTxParams{extra: []solana.Instruction{guardIx}})

	policy := DefaultPolicy()
	policy.BlockedProgramIDs = []solana.PublicKey{LighthouseProgramID}

	err := policy.CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonBlockedProgram {
		t.Errorf("expected %s, got %v", PolicyReasonBlockedProgram, err)
	}
}

func TestPolicyRejectsExtraInstructionsWhenDisallowed(t *testing.T) {
	fixture := newPaymentTxFixture()
	guardIx := solana.NewInstruction(
		LighthouseProgramID,
		solana.AccountMetaSlice{
			solana.Meta(solana.NewWallet().PublicKey()),
		},
		[]byte{0},
	)
	tx := fixture.buildPaymentTx(t, paymentTxParams{extra: []solana.Instruction{guardIx}})

	policy := DefaultPolicy()
	policy.AllowAdditionalInstructions = false

	err := policy.CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonProgramNotAllowed {
		t.Errorf("expected %s, got %v", PolicyReasonProgramNotAllowed, err)
	}
}

func TestPolicyRejectsFeePayerReference(t *testing.T) {
	fixture := newPaymentTxFixture()
	guardIx := solana.NewInstruction(
		LighthouseProgramID,
		solana.AccountMetaSlice{
			solana.Meta(fixture.feePayer.PublicKey()).WRITE(),
		},
		[]byte{0},
	)
	tx := fixture.buildPaymentTx(t, paymentTxParams{extra: []solana.Instruction{guardIx}})

	err := DefaultPolicy().CheckTransaction(tx, fixture.expectation("10000"), nil)
	if err == nil || err.Reason != PolicyReasonInvalidFormat {
		t.Errorf("expected %s, got %v", PolicyReasonInvalidFormat, err)
	}
	if err != nil && !strings.Contains(err.Message, "fee payer") {
		t.Errorf("message should name the fee payer: %s", err.Message)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{})

	encoded, err := EncodeTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeTransaction(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded.Message.Instructions) != RequiredInstructionCount {
		t.Errorf("instruction count after round trip: %d", len(decoded.Message.Instructions))
	}

	if _, err := DecodeTransaction("not-base64!"); err == nil {
		t.Error("invalid base64 should fail")
	}
	if _, err := DecodeTransaction("dHg="); err == nil {
		t.Error("garbage bytes should fail to deserialize")
	}
}

func TestGetTokenPayerFromTransaction(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{})

	payer, err := GetTokenPayerFromTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	if payer != fixture.payer.PublicKey().String() {
		t.Errorf("token payer %s, want %s", payer, fixture.payer.PublicKey())
	}

	if _, err := GetTokenPayerFromTransaction(nil); err == nil {
		t.Error("nil transaction should fail")
	}
}

func TestIsSignedBy(t *testing.T) {
	fixture := newPaymentTxFixture()
	tx := fixture.buildPaymentTx(t, paymentTxParams{authoritySig: true})

	if !IsSignedBy(tx, fixture.payer.PublicKey()) {
		t.Error("payer signature should be present")
	}
	if IsSignedBy(tx, fixture.feePayer.PublicKey()) {
		t.Error("fee payer slot should still be empty")
	}
	if IsSignedBy(tx, solana.NewWallet().PublicKey()) {
		t.Error("unrelated key should not count as signer")
	}
}
