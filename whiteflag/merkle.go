package whiteflag

import (
	"crypto"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/iota.go/v4/merklehasher"
	"golang.org/x/crypto/blake2b"

	"tangle-core/models"
)

// MerkleRoot is the root of an RFC 6962 style binary tree over the ids, hashed with BLAKE2b-256.
// The root of no ids is the hash of the empty string.
func MerkleRoot(ids models.MessageIDs) ([blake2b.Size256]byte, error) {
	var root [blake2b.Size256]byte

	hash, err := merklehasher.NewHasher[models.MessageID](crypto.BLAKE2b_256).HashValues(ids)
	if err != nil {
		return root, ierrors.Wrap(err, "failed to compute merkle root")
	}
	copy(root[:], hash)

	return root, nil
}
