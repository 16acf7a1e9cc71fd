package milestone

import (
	"crypto/ed25519"

	"github.com/iotaledger/hive.go/ierrors"

	"tangle-core/models"
)

var (
	ErrUnknownStructure = ierrors.New("payload is not a well-formed milestone")
	ErrTooFewSignatures = ierrors.New("too few valid milestone signatures")
	ErrNonContiguous    = ierrors.New("milestone index does not follow the confirmed index")
)

// VerifyFunc checks signature over message for publicKey.
type VerifyFunc func(publicKey, message, signature []byte) bool

// Ed25519Verify is the default VerifyFunc.
func Ed25519Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// ValidatedMilestone is a milestone whose signatures verified.
type ValidatedMilestone struct {
	MessageID models.MessageID
	Index     models.MilestoneIndex
	Timestamp uint64
}

// Validator checks milestone candidates. It only reads shared state, the confirmed index.
type Validator struct {
	keys           *KeyManager
	verify         VerifyFunc
	confirmedIndex func() models.MilestoneIndex
}

func NewValidator(keys *KeyManager, verify VerifyFunc, confirmedIndex func() models.MilestoneIndex) *Validator {
	if verify == nil {
		verify = Ed25519Verify
	}
	return &Validator{keys: keys, verify: verify, confirmedIndex: confirmedIndex}
}

// Verify checks the structure and the signatures of the candidate, not its index.
func (v *Validator) Verify(id models.MessageID, msg *models.Message) (*ValidatedMilestone, error) {
	ms, ok := msg.Milestone()
	if !ok {
		return nil, ierrors.Wrapf(ErrUnknownStructure, "message %s carries no milestone payload", id)
	}
	if ms.Index == 0 || len(ms.Signatures) == 0 {
		return nil, ierrors.Wrapf(ErrUnknownStructure, "message %s: index %d with %d signatures", id, ms.Index, len(ms.Signatures))
	}

	authorized := v.keys.AuthorizedKeys(ms.Index)
	essence := ms.Essence()

	valid := make(map[PublicKey]struct{})
	for _, sig := range ms.Signatures {
		key := PublicKey(sig.PublicKey)
		if _, isAuthorized := authorized[key]; !isAuthorized {
			continue
		}
		if _, seen := valid[key]; seen {
			continue
		}
		if v.verify(sig.PublicKey[:], essence, sig.Signature[:]) {
			valid[key] = struct{}{}
		}
	}

	if len(valid) < v.keys.MinThreshold() {
		return nil, ierrors.Wrapf(ErrTooFewSignatures, "milestone %d has %d of %d required", ms.Index, len(valid), v.keys.MinThreshold())
	}

	return &ValidatedMilestone{
		MessageID: id,
		Index:     ms.Index,
		Timestamp: ms.Timestamp,
	}, nil
}

// Validate verifies the candidate and requires its index to directly follow the confirmed index.
func (v *Validator) Validate(id models.MessageID, msg *models.Message) (*ValidatedMilestone, error) {
	validated, err := v.Verify(id, msg)
	if err != nil {
		return nil, err
	}
	if err := v.CheckContiguous(validated.Index); err != nil {
		return nil, err
	}
	return validated, nil
}

// CheckContiguous fails with ErrNonContiguous unless index == confirmed index + 1.
func (v *Validator) CheckContiguous(index models.MilestoneIndex) error {
	if confirmed := v.confirmedIndex(); index != confirmed+1 {
		return ierrors.Wrapf(ErrNonContiguous, "index %d, confirmed %d", index, confirmed)
	}
	return nil
}
