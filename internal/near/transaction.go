package near

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	xerrors "SwapAgent-Chain/internal/errors"

	"github.com/mr-tron/base58"
)

const (
	keyTypeED25519     = 0
	actionFunctionCall = 2
	maxU128BitLen      = 128
	publicKeyBytes     = 32
	signatureBytes     = 64
)

// Gas presets in gas units.
const (
	DefaultGas uint64 = 30_000_000_000_000
	SwapGas    uint64 = 180_000_000_000_000
)

// FunctionCall is a single contract method invocation.
type FunctionCall struct {
	MethodName string `json:"method_name"`
	Args       []byte `json:"args"`
	Gas        uint64 `json:"gas"`
	// Deposit is attached in yoctoNEAR.
	Deposit string `json:"deposit"`
}

// Call pairs a FunctionCall with the contract that receives it. Each call is
// submitted as its own transaction.
type Call struct {
	ContractID string       `json:"contract_id"`
	Action     FunctionCall `json:"action"`
}

// Transaction is the unsigned transaction body.
type Transaction struct {
	SignerID   string
	PublicKey  ed25519.PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []FunctionCall
}

// Serialize encodes the transaction with borsh.
func (tx *Transaction) Serialize() ([]byte, error) {
	if len(tx.PublicKey) != publicKeyBytes {
		return nil, xerrors.New(CodeInvalidKey, "公钥长度无效")
	}
	w := &borshWriter{}
	w.writeString(tx.SignerID)
	w.writeU8(keyTypeED25519)
	w.writeFixed(tx.PublicKey)
	w.writeU64(tx.Nonce)
	w.writeString(tx.ReceiverID)
	w.writeFixed(tx.BlockHash[:])
	w.writeU32(uint32(len(tx.Actions)))
	for _, action := range tx.Actions {
		w.writeU8(actionFunctionCall)
		w.writeString(action.MethodName)
		w.writeBytes(action.Args)
		w.writeU64(action.Gas)
		if err := w.writeU128(action.Deposit); err != nil {
			return nil, err
		}
	}
	return w.buf.Bytes(), nil
}

// SignedTransaction is a serialized transaction with its signature.
type SignedTransaction struct {
	Encoded []byte
	Hash    string
}

// SignTransaction serializes, hashes and signs the transaction.
func SignTransaction(tx *Transaction, key *KeyPair) (*SignedTransaction, error) {
	body, err := tx.Serialize()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(body)
	signature := key.Sign(digest[:])
	if len(signature) != signatureBytes {
		return nil, xerrors.New(CodeInvalidKey, "签名长度无效")
	}

	w := &borshWriter{}
	w.writeFixed(body)
	w.writeU8(keyTypeED25519)
	w.writeFixed(signature)
	return &SignedTransaction{Encoded: w.buf.Bytes(), Hash: base58.Encode(digest[:])}, nil
}

type borshWriter struct {
	buf bytes.Buffer
}

func (w *borshWriter) writeU8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *borshWriter) writeU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) writeU128(value string) error {
	if value == "" {
		value = "0"
	}
	normalized, err := NormalizeAmount(value)
	if err != nil {
		return err
	}
	n, _ := new(big.Int).SetString(normalized, 10)
	if n.BitLen() > maxU128BitLen {
		return xerrors.New(CodeInvalidAmount, "金额超出 u128 范围")
	}
	be := n.FillBytes(make([]byte, 16))
	for i, j := 0, len(be)-1; i < j; i, j = i+1, j-1 {
		be[i], be[j] = be[j], be[i]
	}
	w.buf.Write(be)
	return nil
}

func (w *borshWriter) writeString(s string) {
	w.writeBytes([]byte(s))
}

func (w *borshWriter) writeBytes(b []byte) {
	w.writeU32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *borshWriter) writeFixed(b []byte) {
	w.buf.Write(b)
}
