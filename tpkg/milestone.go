package tpkg

import (
	"crypto/ed25519"

	"golang.org/x/crypto/blake2b"

	"tangle-core/models"
)

// SigningKey derives a deterministic ed25519 key from a name.
func SigningKey(name string) ed25519.PrivateKey {
	seed := blake2b.Sum256([]byte("key:" + name))
	return ed25519.NewKeyFromSeed(seed[:])
}

// PublicKey returns the public half of key as a fixed size array.
func PublicKey(key ed25519.PrivateKey) [models.PublicKeyLength]byte {
	var pub [models.PublicKeyLength]byte
	copy(pub[:], key.Public().(ed25519.PublicKey))
	return pub
}

// Milestone builds a milestone payload signed by keys.
func Milestone(index models.MilestoneIndex, timestamp uint64, keys ...ed25519.PrivateKey) *models.Milestone {
	ms := &models.Milestone{Index: index, Timestamp: timestamp}
	essence := ms.Essence()
	for _, key := range keys {
		var sig models.MilestoneSignature
		sig.PublicKey = PublicKey(key)
		copy(sig.Signature[:], ed25519.Sign(key, essence))
		ms.Signatures = append(ms.Signatures, sig)
	}
	return ms
}
