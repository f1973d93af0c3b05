package blockchain

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType is the leading type byte of a Kaia typed transaction.
type TxType byte

// Fee-delegated types where the fee payer covers the whole fee. The partial
// ("WithRatio") variants are not relayed.
const (
	TxTypeFeeDelegatedValueTransfer          TxType = 0x09
	TxTypeFeeDelegatedValueTransferMemo      TxType = 0x11
	TxTypeFeeDelegatedSmartContractDeploy    TxType = 0x29
	TxTypeFeeDelegatedSmartContractExecution TxType = 0x31
	TxTypeFeeDelegatedCancel                 TxType = 0x39
)

var ErrUnsupportedTxType = errors.New("unsupported transaction type")

// txLayout lists the optional fields a type carries between nonce/gasPrice/gas
// and the signatures.
type txLayout struct {
	name   string
	to     bool
	value  bool
	input  bool
	deploy bool
}

var feeDelegatedLayouts = map[TxType]txLayout{
	TxTypeFeeDelegatedValueTransfer:          {name: "FeeDelegatedValueTransfer", to: true, value: true},
	TxTypeFeeDelegatedValueTransferMemo:      {name: "FeeDelegatedValueTransferMemo", to: true, value: true, input: true},
	TxTypeFeeDelegatedSmartContractDeploy:    {name: "FeeDelegatedSmartContractDeploy", to: true, value: true, input: true, deploy: true},
	TxTypeFeeDelegatedSmartContractExecution: {name: "FeeDelegatedSmartContractExecution", to: true, value: true, input: true},
	TxTypeFeeDelegatedCancel:                 {name: "FeeDelegatedCancel"},
}

func (t TxType) String() string {
	if l, ok := feeDelegatedLayouts[t]; ok {
		return l.name
	}
	return fmt.Sprintf("TxType(0x%02x)", byte(t))
}

// TxSignature is one [V, R, S] entry, V = chainID*2 + 35 + recovery id.
type TxSignature struct {
	V *big.Int
	R *big.Int
	S *big.Int
}

// FeeDelegatedTx is a Kaia fee-delegated transaction. The sender signs every
// field up to the signatures; the fee payer signs the same fields plus its
// own address.
type FeeDelegatedTx struct {
	Type     TxType
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	// To is nil for contract deployment and absent for cancel.
	To    *common.Address
	Value *big.Int
	From  common.Address
	Input []byte

	// Deploy only.
	HumanReadable bool
	CodeFormat    uint8

	Signatures         []TxSignature
	FeePayer           common.Address
	FeePayerSignatures []TxSignature
}

func (tx *FeeDelegatedTx) layout() (txLayout, error) {
	l, ok := feeDelegatedLayouts[tx.Type]
	if !ok {
		return txLayout{}, fmt.Errorf("%w: %s", ErrUnsupportedTxType, tx.Type)
	}
	return l, nil
}

func (tx *FeeDelegatedTx) senderFields() ([]interface{}, error) {
	l, err := tx.layout()
	if err != nil {
		return nil, err
	}
	gasPrice, value := tx.GasPrice, tx.Value
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	if value == nil {
		value = new(big.Int)
	}

	fields := []interface{}{tx.Nonce, gasPrice, tx.Gas}
	if l.to {
		switch {
		case l.deploy:
			fields = append(fields, tx.To)
		case tx.To == nil:
			return nil, fmt.Errorf("%s requires a recipient", tx.Type)
		default:
			fields = append(fields, *tx.To)
		}
	}
	if l.value {
		fields = append(fields, value)
	}
	fields = append(fields, tx.From)
	if l.input {
		fields = append(fields, tx.Input)
	}
	if l.deploy {
		fields = append(fields, tx.HumanReadable, tx.CodeFormat)
	}
	return fields, nil
}

// sigRLP is the typed encoding of the sender fields shared by both signers.
func (tx *FeeDelegatedTx) sigRLP() ([]byte, error) {
	fields, err := tx.senderFields()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(append([]interface{}{byte(tx.Type)}, fields...))
}

func (tx *FeeDelegatedTx) senderSigningPayload(chainID *big.Int) ([]byte, error) {
	inner, err := tx.sigRLP()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes([]interface{}{inner, chainID, uint(0), uint(0)})
}

func (tx *FeeDelegatedTx) feePayerSigningPayload(chainID *big.Int) ([]byte, error) {
	inner, err := tx.sigRLP()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes([]interface{}{inner, tx.FeePayer, chainID, uint(0), uint(0)})
}

func (tx *FeeDelegatedTx) encodeTyped(fields ...interface{}) ([]byte, error) {
	sender, err := tx.senderFields()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(tx.Type))
	if err := rlp.Encode(&buf, append(sender, fields...)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalBinary returns the wire encoding accepted by kaia_sendRawTransaction.
func (tx *FeeDelegatedTx) MarshalBinary() ([]byte, error) {
	feePayerSigs := tx.FeePayerSignatures
	if feePayerSigs == nil {
		feePayerSigs = []TxSignature{}
	}
	return tx.encodeTyped(tx.Signatures, tx.FeePayer, feePayerSigs)
}

// Hash is the hash of the fully signed transaction.
func (tx *FeeDelegatedTx) Hash() (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(raw), nil
}

// SenderTxHash identifies the transaction independently of who pays for it.
func (tx *FeeDelegatedTx) SenderTxHash() (common.Hash, error) {
	raw, err := tx.encodeTyped(tx.Signatures)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(raw), nil
}

func signPayload(payload []byte, key *ecdsa.PrivateKey, chainID *big.Int) (TxSignature, error) {
	sig, err := crypto.Sign(crypto.Keccak256(payload), key)
	if err != nil {
		return TxSignature{}, err
	}
	v := new(big.Int).Mul(chainID, big.NewInt(2))
	v.Add(v, big.NewInt(35+int64(sig[64])))
	return TxSignature{
		V: v,
		R: new(big.Int).SetBytes(sig[:32]),
		S: new(big.Int).SetBytes(sig[32:64]),
	}, nil
}

func recoverPayload(payload []byte, sig TxSignature, chainID *big.Int) (common.Address, error) {
	if sig.V == nil || sig.R == nil || sig.S == nil {
		return common.Address{}, fmt.Errorf("incomplete signature")
	}
	recID := new(big.Int).Sub(sig.V, new(big.Int).Mul(chainID, big.NewInt(2)))
	recID.Sub(recID, big.NewInt(35))
	if !recID.IsUint64() || recID.Uint64() > 1 {
		return common.Address{}, fmt.Errorf("signature is not for chain %s", chainID)
	}
	if !crypto.ValidateSignatureValues(byte(recID.Uint64()), sig.R, sig.S, true) {
		return common.Address{}, fmt.Errorf("invalid signature values")
	}

	raw := make([]byte, 65)
	sig.R.FillBytes(raw[:32])
	sig.S.FillBytes(raw[32:64])
	raw[64] = byte(recID.Uint64())

	pub, err := crypto.SigToPub(crypto.Keccak256(payload), raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignAsSender replaces the sender signatures. From must be the key's address.
func (tx *FeeDelegatedTx) SignAsSender(key *ecdsa.PrivateKey, chainID *big.Int) error {
	if crypto.PubkeyToAddress(key.PublicKey) != tx.From {
		return fmt.Errorf("key does not match sender %s", tx.From.Hex())
	}
	payload, err := tx.senderSigningPayload(chainID)
	if err != nil {
		return err
	}
	sig, err := signPayload(payload, key, chainID)
	if err != nil {
		return fmt.Errorf("failed to sign as sender: %w", err)
	}
	tx.Signatures = []TxSignature{sig}
	return nil
}

// SignAsFeePayer sets the fee payer and replaces its signatures. Sender
// signatures are left untouched.
func (tx *FeeDelegatedTx) SignAsFeePayer(key *ecdsa.PrivateKey, chainID *big.Int) error {
	tx.FeePayer = crypto.PubkeyToAddress(key.PublicKey)
	payload, err := tx.feePayerSigningPayload(chainID)
	if err != nil {
		return err
	}
	sig, err := signPayload(payload, key, chainID)
	if err != nil {
		return fmt.Errorf("failed to sign as fee payer: %w", err)
	}
	tx.FeePayerSignatures = []TxSignature{sig}
	return nil
}

// Sender recovers the first sender signature. Only accounts whose key is
// derived from their address can be verified this way.
func (tx *FeeDelegatedTx) Sender(chainID *big.Int) (common.Address, error) {
	if len(tx.Signatures) == 0 {
		return common.Address{}, fmt.Errorf("transaction is not signed")
	}
	payload, err := tx.senderSigningPayload(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return recoverPayload(payload, tx.Signatures[0], chainID)
}

// FeePayerSender recovers the first fee payer signature.
func (tx *FeeDelegatedTx) FeePayerSender(chainID *big.Int) (common.Address, error) {
	if len(tx.FeePayerSignatures) == 0 {
		return common.Address{}, fmt.Errorf("transaction has no fee payer signature")
	}
	payload, err := tx.feePayerSigningPayload(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return recoverPayload(payload, tx.FeePayerSignatures[0], chainID)
}

// fieldReader decodes list items in order and keeps the first error.
type fieldReader struct {
	items []rlp.RawValue
	pos   int
	err   error
}

func (r *fieldReader) next(name string, v interface{}) {
	if r.err != nil {
		return
	}
	if r.pos >= len(r.items) {
		r.err = fmt.Errorf("missing field %s", name)
		return
	}
	if err := rlp.DecodeBytes(r.items[r.pos], v); err != nil {
		r.err = fmt.Errorf("field %s: %w", name, err)
	}
	r.pos++
}

// DecodeFeeDelegatedTx decodes the typed encoding of a fee-delegated
// transaction. The fee payer fields may be empty placeholders.
func DecodeFeeDelegatedTx(raw []byte) (*FeeDelegatedTx, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("transaction too short")
	}
	tx := &FeeDelegatedTx{Type: TxType(raw[0])}
	l, err := tx.layout()
	if err != nil {
		return nil, err
	}

	var items []rlp.RawValue
	if err := rlp.DecodeBytes(raw[1:], &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", tx.Type, err)
	}

	r := &fieldReader{items: items}
	r.next("nonce", &tx.Nonce)
	r.next("gasPrice", &tx.GasPrice)
	r.next("gas", &tx.Gas)
	if l.to {
		var to []byte
		r.next("to", &to)
		switch {
		case r.err != nil:
		case len(to) == common.AddressLength:
			addr := common.BytesToAddress(to)
			tx.To = &addr
		case len(to) == 0 && l.deploy:
		default:
			r.err = fmt.Errorf("field to: invalid address length %d", len(to))
		}
	}
	if l.value {
		r.next("value", &tx.Value)
	}
	r.next("from", &tx.From)
	if l.input {
		r.next("input", &tx.Input)
	}
	if l.deploy {
		r.next("humanReadable", &tx.HumanReadable)
		r.next("codeFormat", &tx.CodeFormat)
	}
	r.next("txSignatures", &tx.Signatures)
	// Wallets leave the fee payer empty or zero until it is known.
	var feePayer []byte
	r.next("feePayer", &feePayer)
	switch {
	case r.err != nil, len(feePayer) == 0:
	case len(feePayer) == common.AddressLength:
		tx.FeePayer = common.BytesToAddress(feePayer)
	default:
		r.err = fmt.Errorf("field feePayer: invalid address length %d", len(feePayer))
	}
	r.next("feePayerSignatures", &tx.FeePayerSignatures)
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", tx.Type, r.err)
	}
	if r.pos != len(items) {
		return nil, fmt.Errorf("failed to decode %s: %d unexpected trailing fields", tx.Type, len(items)-r.pos)
	}
	if tx.Value == nil {
		tx.Value = new(big.Int)
	}
	return tx, nil
}
