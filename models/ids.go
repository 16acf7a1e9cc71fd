package models

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/iotaledger/hive.go/ierrors"
	"golang.org/x/crypto/blake2b"
)

const (
	// MessageIDLength is the byte length of a MessageID.
	MessageIDLength = blake2b.Size256
	// AddressLength is the byte length of an Address.
	AddressLength = 32
)

var ErrInvalidIDLength = ierrors.New("invalid identifier length")

// MilestoneIndex identifies a confirmation round.
type MilestoneIndex uint32

// MessageID is the blake2b-256 hash of a serialized message.
type MessageID [MessageIDLength]byte

// EmptyMessageID is the all-zero id, used as the genesis parent.
var EmptyMessageID MessageID

func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the id as hex for JSON views.
// Bytes returns the raw id, used as merkle tree leaf.
func (id MessageID) Bytes() ([]byte, error) {
	return id[:], nil
}

func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageID) UnmarshalText(text []byte) error {
	parsed, err := MessageIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MessageIDFromHex parses a hex encoded MessageID.
func MessageIDFromHex(s string) (MessageID, error) {
	var id MessageID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, ierrors.Wrapf(err, "failed to decode message id %q", s)
	}
	if len(b) != MessageIDLength {
		return id, ierrors.Wrapf(ErrInvalidIDLength, "message id has %d bytes", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MessageIDs is a list of message ids.
type MessageIDs []MessageID

// Sort orders the ids bytewise, giving set-like results a stable order.
func (ids MessageIDs) Sort() MessageIDs {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// Address is the owner of a ledger balance.
type Address [AddressLength]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromHex parses a hex encoded Address.
func AddressFromHex(s string) (Address, error) {
	var addr Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return addr, ierrors.Wrapf(err, "failed to decode address %q", s)
	}
	if len(b) != AddressLength {
		return addr, ierrors.Wrapf(ErrInvalidIDLength, "address has %d bytes", len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// SortAddresses orders addresses bytewise.
func SortAddresses(addrs []Address) []Address {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}
