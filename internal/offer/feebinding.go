package offer

import (
	"bytes"
	"context"
	"errors"

	"github.com/btcsuite/btcd/txscript"
)

// Protocol constants for the fee-transaction anti-spam binding. These mirror
// the values named by the wire-protocol section of the specification.
const (
	PayofferTxFee       uint64 = 100000   // base anti-spam fee margin, in minor units
	PayofferReturnFee   uint64 = 1000     // required value of the OP_RETURN output
	PayofferMinTxHeight int64  = 6        // confirmation floor
	MaxTransactionSize  int    = 100_000  // bytes
)

var (
	ErrTxMissing                = errors.New("feebinding: fee transaction not found")
	ErrInsufficientConfirmations = errors.New("feebinding: fee transaction has insufficient confirmations")
	ErrBadCommitment             = errors.New("feebinding: OP_RETURN commitment missing or mismatched")
	ErrInsufficientFee           = errors.New("feebinding: fee margin below required amount")
	ErrTxTooLarge                = errors.New("feebinding: serialized transaction exceeds maximum size")
)

// TxOut is the minimal output shape FeeBinding needs from a transaction
// fetched through the out-of-scope blockchain collaborator.
type TxOut struct {
	Value  uint64
	Script []byte
}

// TxIn is the minimal input shape; PrevOut is resolved by the tx source so
// FeeBinding never has to walk the chain itself.
type TxIn struct {
	PrevOut TxOut
}

// Tx is the minimal transaction shape FeeBinding.Verify consumes.
type Tx struct {
	Outputs        []TxOut
	Inputs         []TxIn
	Confirmations  int64
	SerializedSize int
}

// TxSource is the narrow external collaborator boundary for blockchain
// transaction lookup. The real implementation (transaction index, block
// index) lives entirely outside this module; only this interface is in
// scope here.
type TxSource interface {
	Transaction(ctx context.Context, txid [32]byte) (*Tx, error)
}

// extractCommitment walks an OP_RETURN script and returns the first pushed
// data item, if the script is unspendable (starts with OP_RETURN). This is
// the pure function the spec calls for explicitly: no example repo carries
// OP_RETURN parsing, so it is authored fresh in txscript's tokenizer idiom.
func extractCommitment(script []byte) ([]byte, bool) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, false
	}
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	var commitment []byte
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		if op == txscript.OP_RETURN {
			continue
		}
		if op >= txscript.OP_DATA_1 && op <= txscript.OP_PUSHDATA4 && commitment == nil {
			commitment = tokenizer.Data()
		}
	}
	if tokenizer.Err() != nil {
		return nil, false
	}
	return commitment, commitment != nil
}

// BuildCommitmentScript constructs the OP_RETURN script committing to hash,
// for use by OfferManager when preparing a fee-payment transaction.
func BuildCommitmentScript(hash [32]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_RETURN)
	builder.AddData(hash[:])
	return builder.Script()
}

// FeeBinding verifies that a fee transaction legitimately anchors an offer.
type FeeBinding struct {
	Source TxSource
}

// NewFeeBinding constructs a FeeBinding bound to a transaction source.
func NewFeeBinding(source TxSource) *FeeBinding {
	return &FeeBinding{Source: source}
}

// Verify implements the five-step check in SPEC_FULL.md §"OfferRecord,
// FeeBinding, Signer".
func (f *FeeBinding) Verify(ctx context.Context, o *Record) error {
	tx, err := f.Source.Transaction(ctx, o.IDTransaction)
	if err != nil || tx == nil {
		return ErrTxMissing
	}

	if tx.Confirmations < PayofferMinTxHeight {
		return ErrInsufficientConfirmations
	}

	if len(tx.Outputs) == 0 || tx.Outputs[0].Value != PayofferReturnFee {
		return ErrBadCommitment
	}
	commitment, ok := extractCommitment(tx.Outputs[0].Script)
	if !ok || !bytes.Equal(commitment, o.Hash[:]) {
		return ErrBadCommitment
	}

	var credit, debit uint64
	for _, out := range tx.Outputs {
		credit += out.Value
	}
	for _, in := range tx.Inputs {
		debit += in.PrevOut.Value
	}
	coef := uint64(FeeCoefficient(o.TimeCreate, o.TimeExpiration))
	if debit < credit || (debit-credit) < PayofferTxFee*coef {
		return ErrInsufficientFee
	}

	if tx.SerializedSize > MaxTransactionSize {
		return ErrTxTooLarge
	}

	return nil
}
