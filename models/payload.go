package models

import (
	"encoding/binary"
	"math"

	"github.com/iotaledger/hive.go/ierrors"
)

// PayloadType tags the payload carried by a message.
type PayloadType uint32

const (
	PayloadTransaction PayloadType = 0
	PayloadMilestone   PayloadType = 1
	PayloadIndexation  PayloadType = 2
)

func (t PayloadType) String() string {
	switch t {
	case PayloadTransaction:
		return "transaction"
	case PayloadMilestone:
		return "milestone"
	case PayloadIndexation:
		return "indexation"
	default:
		return "unknown"
	}
}

var (
	ErrUnbalancedTransaction = ierrors.New("transaction inputs and outputs do not balance")
	ErrEmptyTransaction      = ierrors.New("transaction has no inputs")
	ErrAmountOverflow        = ierrors.New("transaction amount overflows")
)

// Payload is the body of a message.
type Payload interface {
	Type() PayloadType
	serialize(w *writer)
}

// Transfer moves Amount from or to Address.
type Transfer struct {
	Address Address `json:"address"`
	Amount  uint64  `json:"amount"`
}

// Transaction is the only payload kind that mutates the ledger.
type Transaction struct {
	Inputs  []Transfer `json:"inputs"`
	Outputs []Transfer `json:"outputs"`
}

func (t *Transaction) Type() PayloadType { return PayloadTransaction }

// Deltas returns the signed balance change per address. A transaction must move value only:
// the sum of its inputs equals the sum of its outputs.
func (t *Transaction) Deltas() (map[Address]int64, error) {
	if len(t.Inputs) == 0 {
		return nil, ErrEmptyTransaction
	}

	deltas := make(map[Address]int64, len(t.Inputs)+len(t.Outputs))
	var in, out uint64
	for _, input := range t.Inputs {
		if input.Amount > math.MaxInt64 || in+input.Amount < in {
			return nil, ErrAmountOverflow
		}
		in += input.Amount
		deltas[input.Address] -= int64(input.Amount)
	}
	for _, output := range t.Outputs {
		if output.Amount > math.MaxInt64 || out+output.Amount < out {
			return nil, ErrAmountOverflow
		}
		out += output.Amount
		deltas[output.Address] += int64(output.Amount)
	}
	if in != out {
		return nil, ierrors.Wrapf(ErrUnbalancedTransaction, "inputs %d, outputs %d", in, out)
	}
	if in > math.MaxInt64 {
		return nil, ErrAmountOverflow
	}

	return deltas, nil
}

func (t *Transaction) serialize(w *writer) {
	writeTransfers(w, t.Inputs)
	writeTransfers(w, t.Outputs)
}

func writeTransfers(w *writer, transfers []Transfer) {
	w.u32(uint32(len(transfers)))
	for _, transfer := range transfers {
		w.bytes(transfer.Address[:])
		w.u64(transfer.Amount)
	}
}

// Indexation attaches arbitrary data under an index key.
type Indexation struct {
	Index []byte `json:"index"`
	Data  []byte `json:"data"`
}

func (i *Indexation) Type() PayloadType { return PayloadIndexation }

func (i *Indexation) serialize(w *writer) {
	w.varBytes(i.Index)
	w.varBytes(i.Data)
}

const (
	PublicKeyLength = 32
	SignatureLength = 64
)

// MilestoneSignature is one endorsement of a milestone essence.
type MilestoneSignature struct {
	PublicKey [PublicKeyLength]byte `json:"publicKey"`
	Signature [SignatureLength]byte `json:"signature"`
}

// Milestone anchors confirmation round Index.
type Milestone struct {
	Index      MilestoneIndex       `json:"index"`
	Timestamp  uint64               `json:"timestamp"`
	Signatures []MilestoneSignature `json:"signatures"`
}

func (m *Milestone) Type() PayloadType { return PayloadMilestone }

// Essence is the byte string the milestone signatures commit to.
func (m *Milestone) Essence() []byte {
	essence := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(essence[0:4], uint32(m.Index))
	binary.LittleEndian.PutUint64(essence[4:12], m.Timestamp)
	return essence
}

func (m *Milestone) serialize(w *writer) {
	w.u32(uint32(m.Index))
	w.u64(m.Timestamp)
	w.u32(uint32(len(m.Signatures)))
	for _, sig := range m.Signatures {
		w.bytes(sig.PublicKey[:])
		w.bytes(sig.Signature[:])
	}
}
