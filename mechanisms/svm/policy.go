package svm

import (
	"fmt"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Policy rejection reasons, aligned with the canonical error kinds the
// facilitator surfaces on the wire.
const (
	PolicyReasonInvalidFormat               = "InvalidFormat"
	PolicyReasonRequirementMismatch         = "RequirementMismatch"
	PolicyReasonInvalidSignature            = "InvalidSignature"
	PolicyReasonBlockedProgram              = "BlockedProgram"
	PolicyReasonProgramNotAllowed           = "ProgramNotAllowed"
	PolicyReasonCreateATANotSupported       = "CreateATANotSupported"
	PolicyReasonMaxComputeUnitLimitExceeded = "MaxComputeUnitLimitExceeded"
	PolicyReasonMaxComputeUnitPriceExceeded = "MaxComputeUnitPriceExceeded"
)

// PolicyError reports why the policy gate rejected a transaction.
type PolicyError struct {
	Reason  string
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func policyErrorf(reason, format string, args ...interface{}) *PolicyError {
	return &PolicyError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Policy is the facilitator's instruction filter. Every transaction must
// open with SetComputeUnitLimit, SetComputeUnitPrice, TransferChecked;
// anything after that is governed by the allow/block lists.
type Policy struct {
	MaxInstructionCount              int
	MaxComputeUnitLimit              uint32
	MaxComputeUnitPriceMicrolamports uint64

	// AllowAdditionalInstructions permits instructions beyond the three
	// required ones, subject to the program lists.
	AllowAdditionalInstructions bool
	AllowedProgramIDs           []solana.PublicKey
	BlockedProgramIDs           []solana.PublicKey

	// RequireFeePayerNotInInstructions rejects transactions whose extra
	// instructions reference the fee payer, so a hostile payload cannot
	// move the facilitator's own funds.
	RequireFeePayerNotInInstructions bool
}

// DefaultPolicy returns the policy used when none is configured. Phantom's
// Lighthouse program is allowed so Phantom-built transactions pass.
func DefaultPolicy() Policy {
	return Policy{
		MaxInstructionCount:              DefaultMaxInstructionCount,
		MaxComputeUnitLimit:              MaxComputeUnitLimit,
		MaxComputeUnitPriceMicrolamports: MaxComputeUnitPriceMicrolamports,
		AllowAdditionalInstructions:      true,
		AllowedProgramIDs:                []solana.PublicKey{LighthouseProgramID},
		RequireFeePayerNotInInstructions: true,
	}
}

// TransferExpectation is what the transfer instruction must pay.
type TransferExpectation struct {
	Mint   string
	PayTo  string
	Amount string
}

// CheckTransaction applies the full policy gate. facilitatorSigners are
// the fee-payer addresses managed by this facilitator; the transfer
// authority must not be one of them. Returns nil when the transaction is
// acceptable.
func (p Policy) CheckTransaction(
	tx *solana.Transaction,
	expectation TransferExpectation,
	facilitatorSigners []string,
) *PolicyError {
	instructions := tx.Message.Instructions
	if len(instructions) < RequiredInstructionCount {
		return policyErrorf(PolicyReasonInvalidFormat,
			"transaction has %d instructions, need at least %d", len(instructions), RequiredInstructionCount)
	}
	if len(instructions) > p.MaxInstructionCount {
		return policyErrorf(PolicyReasonInvalidFormat,
			"transaction has %d instructions, policy allows at most %d", len(instructions), p.MaxInstructionCount)
	}

	if err := p.checkComputeLimitInstruction(tx, instructions[0]); err != nil {
		return err
	}
	if err := p.checkComputePriceInstruction(tx, instructions[1]); err != nil {
		return err
	}
	if err := p.checkTransferInstruction(tx, instructions[2], expectation, facilitatorSigners); err != nil {
		return err
	}
	if err := p.checkAdditionalInstructions(tx, instructions[RequiredInstructionCount:]); err != nil {
		return err
	}
	return nil
}

func (p Policy) checkComputeLimitInstruction(tx *solana.Transaction, inst solana.CompiledInstruction) *PolicyError {
	progID, err := tx.Message.Program(inst.ProgramIDIndex)
	if err != nil || !progID.Equals(solana.ComputeBudget) {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 0 is not a ComputeBudget instruction")
	}
	if len(inst.Data) < 1 || inst.Data[0] != ComputeBudgetSetLimitDiscriminator {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 0 is not SetComputeUnitLimit")
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 0 accounts do not resolve")
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 0 does not decode as SetComputeUnitLimit")
	}
	limitInst, ok := decoded.Impl.(*computebudget.SetComputeUnitLimit)
	if !ok {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 0 is not SetComputeUnitLimit")
	}
	if limitInst.Units > p.MaxComputeUnitLimit {
		return policyErrorf(PolicyReasonMaxComputeUnitLimitExceeded,
			"compute unit limit %d exceeds maximum %d", limitInst.Units, p.MaxComputeUnitLimit)
	}
	return nil
}

func (p Policy) checkComputePriceInstruction(tx *solana.Transaction, inst solana.CompiledInstruction) *PolicyError {
	progID, err := tx.Message.Program(inst.ProgramIDIndex)
	if err != nil || !progID.Equals(solana.ComputeBudget) {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 1 is not a ComputeBudget instruction")
	}
	if len(inst.Data) < 1 || inst.Data[0] != ComputeBudgetSetPriceDiscriminator {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 1 is not SetComputeUnitPrice")
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 1 accounts do not resolve")
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 1 does not decode as SetComputeUnitPrice")
	}
	priceInst, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice)
	if !ok {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 1 is not SetComputeUnitPrice")
	}
	if priceInst.MicroLamports > p.MaxComputeUnitPriceMicrolamports {
		return policyErrorf(PolicyReasonMaxComputeUnitPriceExceeded,
			"compute unit price %d exceeds maximum %d", priceInst.MicroLamports, p.MaxComputeUnitPriceMicrolamports)
	}
	return nil
}

func (p Policy) checkTransferInstruction(
	tx *solana.Transaction,
	inst solana.CompiledInstruction,
	expectation TransferExpectation,
	facilitatorSigners []string,
) *PolicyError {
	progID, err := tx.Message.Program(inst.ProgramIDIndex)
	if err != nil || (progID != solana.TokenProgramID && progID != solana.Token2022ProgramID) {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 2 is not a token program instruction")
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil || len(accounts) < 4 {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 2 accounts do not resolve")
	}
	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 2 does not decode as a token instruction")
	}
	transferChecked, ok := decoded.Impl.(*token.TransferChecked)
	if !ok {
		return policyErrorf(PolicyReasonInvalidFormat, "instruction 2 is not TransferChecked")
	}

	// The facilitator must never sign away its own funds.
	authority := accounts[3].PublicKey.String()
	for _, signer := range facilitatorSigners {
		if authority == signer {
			return policyErrorf(PolicyReasonInvalidSignature,
				"transfer authority %s is a facilitator signer", authority)
		}
	}

	mint := accounts[1].PublicKey.String()
	if mint != expectation.Mint {
		return policyErrorf(PolicyReasonRequirementMismatch,
			"transfer mint %s does not match required asset %s", mint, expectation.Mint)
	}

	payTo, err := solana.PublicKeyFromBase58(expectation.PayTo)
	if err != nil {
		return policyErrorf(PolicyReasonRequirementMismatch, "invalid payTo address: %s", expectation.PayTo)
	}
	mintKey := accounts[1].PublicKey
	expectedDestATA, _, err := solana.FindAssociatedTokenAddress(payTo, mintKey)
	if err != nil {
		return policyErrorf(PolicyReasonRequirementMismatch, "cannot derive destination token account")
	}
	destATA := transferChecked.GetDestinationAccount().PublicKey
	if !destATA.Equals(expectedDestATA) {
		return policyErrorf(PolicyReasonRequirementMismatch,
			"transfer destination %s is not the recipient's token account %s", destATA, expectedDestATA)
	}

	requiredAmount, err := strconv.ParseUint(expectation.Amount, 10, 64)
	if err != nil {
		return policyErrorf(PolicyReasonRequirementMismatch, "invalid required amount: %s", expectation.Amount)
	}
	if transferChecked.Amount == nil || *transferChecked.Amount < requiredAmount {
		return policyErrorf(PolicyReasonRequirementMismatch,
			"transfer amount below required %d", requiredAmount)
	}
	return nil
}

func (p Policy) checkAdditionalInstructions(tx *solana.Transaction, extra []solana.CompiledInstruction) *PolicyError {
	if len(extra) == 0 {
		return nil
	}
	if !p.AllowAdditionalInstructions {
		return policyErrorf(PolicyReasonProgramNotAllowed,
			"additional instructions are not allowed by policy")
	}

	feePayer := tx.Message.AccountKeys[0]

	for i, inst := range extra {
		index := i + RequiredInstructionCount
		progID, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil {
			return policyErrorf(PolicyReasonInvalidFormat, "instruction %d program does not resolve", index)
		}

		// ATA creation for the destination would let the payer bill
		// rent-exemption to the fee payer.
		if progID.Equals(solana.SPLAssociatedTokenAccountProgramID) {
			return policyErrorf(PolicyReasonCreateATANotSupported,
				"instruction %d creates an associated token account", index)
		}

		for _, blocked := range p.BlockedProgramIDs {
			if progID.Equals(blocked) {
				return policyErrorf(PolicyReasonBlockedProgram,
					"instruction %d uses blocked program %s", index, progID)
			}
		}

		allowed := false
		for _, allowedID := range p.AllowedProgramIDs {
			if progID.Equals(allowedID) {
				allowed = true
				break
			}
		}
		if !allowed {
			return policyErrorf(PolicyReasonProgramNotAllowed,
				"instruction %d uses program %s which is not allowed", index, progID)
		}

		if p.RequireFeePayerNotInInstructions {
			accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
			if err != nil {
				return policyErrorf(PolicyReasonInvalidFormat, "instruction %d accounts do not resolve", index)
			}
			for _, account := range accounts {
				if account.PublicKey.Equals(feePayer) {
					return policyErrorf(PolicyReasonInvalidFormat,
						"instruction %d references the fee payer", index)
				}
			}
		}
	}
	return nil
}
