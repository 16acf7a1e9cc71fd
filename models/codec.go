package models

import (
	"bytes"
	"encoding/binary"

	"github.com/iotaledger/hive.go/ierrors"
)

var ErrMalformedMessage = ierrors.New("malformed message")

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) bytes(b []byte) {
	w.buf.Write(b)
}

func (w *writer) varBytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.pos < n {
		r.err = ierrors.Wrapf(ErrMalformedMessage, "need %d bytes at offset %d, have %d", n, r.pos, len(r.data)-r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) varBytes() []byte {
	n := r.u32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// count reads a list length and rejects lengths the remaining bytes cannot hold.
func (r *reader) count(elemSize int) int {
	n := int(r.u32())
	if r.err == nil && n*elemSize > len(r.data)-r.pos {
		r.err = ierrors.Wrapf(ErrMalformedMessage, "list of %d elements exceeds remaining %d bytes", n, len(r.data)-r.pos)
		return 0
	}
	return n
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func serializePayload(p Payload) []byte {
	if p == nil {
		return nil
	}
	w := &writer{}
	w.u32(uint32(p.Type()))
	p.serialize(w)
	return w.buf.Bytes()
}

// DeserializePayload decodes a type-tagged payload.
func DeserializePayload(data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := &reader{data: data}
	payloadType := PayloadType(r.u32())

	var payload Payload
	switch payloadType {
	case PayloadTransaction:
		payload = &Transaction{
			Inputs:  readTransfers(r),
			Outputs: readTransfers(r),
		}
	case PayloadIndexation:
		payload = &Indexation{
			Index: r.varBytes(),
			Data:  r.varBytes(),
		}
	case PayloadMilestone:
		ms := &Milestone{
			Index:     MilestoneIndex(r.u32()),
			Timestamp: r.u64(),
		}
		n := r.count(PublicKeyLength + SignatureLength)
		for i := 0; i < n && r.err == nil; i++ {
			var sig MilestoneSignature
			copy(sig.PublicKey[:], r.take(PublicKeyLength))
			copy(sig.Signature[:], r.take(SignatureLength))
			ms.Signatures = append(ms.Signatures, sig)
		}
		payload = ms
	default:
		return nil, ierrors.Wrapf(ErrMalformedMessage, "unknown payload type %d", payloadType)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, ierrors.Wrapf(ErrMalformedMessage, "%d trailing payload bytes", r.remaining())
	}

	return payload, nil
}

func readTransfers(r *reader) []Transfer {
	n := r.count(AddressLength + 8)
	var transfers []Transfer
	for i := 0; i < n && r.err == nil; i++ {
		var transfer Transfer
		copy(transfer.Address[:], r.take(AddressLength))
		transfer.Amount = r.u64()
		transfers = append(transfers, transfer)
	}
	return transfers
}
