package models

import (
	"github.com/iotaledger/hive.go/ierrors"
	"golang.org/x/crypto/blake2b"
)

// Message is the immutable content of a Tangle vertex.
type Message struct {
	Parent1 MessageID `json:"parent1"`
	Parent2 MessageID `json:"parent2"`
	Payload Payload   `json:"payload,omitempty"`
	Nonce   uint64    `json:"nonce"`
}

// Parents returns parent1 followed by parent2. Traversals rely on this order.
func (m *Message) Parents() [2]MessageID {
	return [2]MessageID{m.Parent1, m.Parent2}
}

// PayloadType returns the type of the payload and false if the message carries none.
func (m *Message) PayloadType() (PayloadType, bool) {
	if m.Payload == nil {
		return 0, false
	}
	return m.Payload.Type(), true
}

// Milestone returns the milestone payload, if any.
func (m *Message) Milestone() (*Milestone, bool) {
	ms, ok := m.Payload.(*Milestone)
	return ms, ok
}

// Transaction returns the value transfer payload, if any.
func (m *Message) Transaction() (*Transaction, bool) {
	tx, ok := m.Payload.(*Transaction)
	return tx, ok
}

func (m *Message) Indexation() (*Indexation, bool) {
	idx, ok := m.Payload.(*Indexation)
	return idx, ok
}

// Serialize packs the message as parent1 | parent2 | payload length | payload | nonce,
// all integers little-endian.
func (m *Message) Serialize() []byte {
	w := &writer{}
	w.bytes(m.Parent1[:])
	w.bytes(m.Parent2[:])
	w.varBytes(serializePayload(m.Payload))
	w.u64(m.Nonce)
	return w.buf.Bytes()
}

// ID hashes the serialized form.
func (m *Message) ID() MessageID {
	return blake2b.Sum256(m.Serialize())
}

// DeserializeMessage decodes bytes produced by Serialize.
func DeserializeMessage(data []byte) (*Message, error) {
	r := &reader{data: data}

	msg := &Message{}
	copy(msg.Parent1[:], r.take(MessageIDLength))
	copy(msg.Parent2[:], r.take(MessageIDLength))
	payloadBytes := r.varBytes()
	msg.Nonce = r.u64()

	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, ierrors.Wrapf(ErrMalformedMessage, "%d trailing bytes", r.remaining())
	}

	payload, err := DeserializePayload(payloadBytes)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to decode payload")
	}
	msg.Payload = payload

	return msg, nil
}
