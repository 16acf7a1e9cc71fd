package repository

import (
	"encoding/binary"
	"encoding/json"

	"github.com/iotaledger/hive.go/ierrors"
	"golang.org/x/crypto/blake2b"

	"tangle-core/db"
	"tangle-core/models"
)

// ErrNotFound is returned when a record is absent.
var ErrNotFound = db.ErrNotFound

// key prefixes of the storage layout
const (
	prefixMessage         byte = 'm'
	prefixMetadata        byte = 'd'
	prefixIndexation      byte = 'i'
	prefixBalance         byte = 'b'
	prefixSolidEntryPoint byte = 's'
)

const checkpointPrefix = "checkpoint:"

// MessageRepositoryInterface abstracts vertex persistence from the Tangle
type MessageRepositoryInterface interface {
	PutVertex(id models.MessageID, msg *models.Message, meta *models.Metadata) error
	PutMetadata(id models.MessageID, meta *models.Metadata) error
	GetMessage(id models.MessageID) (*models.Message, error)
	GetMetadata(id models.MessageID) (*models.Metadata, error)
	ForEachVertex(consumer func(id models.MessageID, msg *models.Message, meta *models.Metadata) bool) error
	MessageIDsByIndex(index []byte) (models.MessageIDs, error)
	PutSolidEntryPoint(id models.MessageID, index models.MilestoneIndex) error
	DeleteSolidEntryPoint(id models.MessageID) error
	SolidEntryPoints() (map[models.MessageID]models.MilestoneIndex, error)
}

// LedgerRepositoryInterface abstracts balance persistence from the ledger state
type LedgerRepositoryInterface interface {
	PutLedger(changed map[models.Address]uint64, cp *models.Checkpoint) error
	GetBalances() (map[models.Address]uint64, error)
	GetLatestCheckpoint() (*models.Checkpoint, error)
}

// TangleRepositoryInterface is the full storage backend of a node
type TangleRepositoryInterface interface {
	MessageRepositoryInterface
	LedgerRepositoryInterface
}

// Repository implements both interfaces using LevelDB as the storage backend
type Repository struct {
	db *db.LevelDB
}

// NewRepository creates and returns a new Repository instance
func NewRepository(db *db.LevelDB) *Repository {
	return &Repository{db: db}
}

func key(prefix byte, parts ...[]byte) []byte {
	k := []byte{prefix}
	for _, part := range parts {
		k = append(k, part...)
	}
	return k
}

func indexationKey(index []byte) []byte {
	hash := blake2b.Sum256(index)
	return key(prefixIndexation, hash[:])
}

// PutVertex stores message and metadata in one batch, plus the indexation lookup entry
func (r *Repository) PutVertex(id models.MessageID, msg *models.Message, meta *models.Metadata) error {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	batch := r.db.NewBatch()
	batch.Put(key(prefixMessage, id[:]), msg.Serialize())
	batch.Put(key(prefixMetadata, id[:]), metaBytes)
	if indexation, ok := msg.Payload.(*models.Indexation); ok {
		batch.Put(append(indexationKey(indexation.Index), id[:]...), nil)
	}

	if err := r.db.Write(batch); err != nil {
		return ierrors.Wrapf(err, "failed to store vertex %s", id)
	}
	return nil
}

// PutMetadata overwrites the metadata of a stored vertex
func (r *Repository) PutMetadata(id models.MessageID, meta *models.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.db.Put(key(prefixMetadata, id[:]), data)
}

// GetMessage retrieves a message by its ID
func (r *Repository) GetMessage(id models.MessageID) (*models.Message, error) {
	data, err := r.db.Get(key(prefixMessage, id[:]))
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to load message %s", id)
	}
	return models.DeserializeMessage(data)
}

// GetMetadata retrieves the metadata of a message by its ID
func (r *Repository) GetMetadata(id models.MessageID) (*models.Metadata, error) {
	data, err := r.db.Get(key(prefixMetadata, id[:]))
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to load metadata %s", id)
	}
	var meta models.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ForEachVertex iterates all stored vertices until the consumer returns false
func (r *Repository) ForEachVertex(consumer func(id models.MessageID, msg *models.Message, meta *models.Metadata) bool) error {
	iter := r.db.NewIterator([]byte{prefixMessage})
	defer iter.Release()

	for iter.Next() {
		var id models.MessageID
		copy(id[:], iter.Key()[1:])

		msg, err := models.DeserializeMessage(iter.Value())
		if err != nil {
			return ierrors.Wrapf(err, "corrupt message %s", id)
		}
		meta, err := r.GetMetadata(id)
		if err != nil {
			return err
		}
		if !consumer(id, msg, meta) {
			break
		}
	}
	return iter.Error()
}

// MessageIDsByIndex returns the ids of all indexation messages stored under index
func (r *Repository) MessageIDsByIndex(index []byte) (models.MessageIDs, error) {
	prefix := indexationKey(index)
	iter := r.db.NewIterator(prefix)
	defer iter.Release()

	var ids models.MessageIDs
	for iter.Next() {
		var id models.MessageID
		copy(id[:], iter.Key()[len(prefix):])
		ids = append(ids, id)
	}
	return ids, iter.Error()
}

func (r *Repository) PutSolidEntryPoint(id models.MessageID, index models.MilestoneIndex) error {
	value := make([]byte, 4)
	binary.LittleEndian.PutUint32(value, uint32(index))
	return r.db.Put(key(prefixSolidEntryPoint, id[:]), value)
}

func (r *Repository) DeleteSolidEntryPoint(id models.MessageID) error {
	return r.db.Delete(key(prefixSolidEntryPoint, id[:]))
}

func (r *Repository) SolidEntryPoints() (map[models.MessageID]models.MilestoneIndex, error) {
	iter := r.db.NewIterator([]byte{prefixSolidEntryPoint})
	defer iter.Release()

	seps := make(map[models.MessageID]models.MilestoneIndex)
	for iter.Next() {
		var id models.MessageID
		copy(id[:], iter.Key()[1:])
		seps[id] = models.MilestoneIndex(binary.LittleEndian.Uint32(iter.Value()))
	}
	return seps, iter.Error()
}

// PutLedger writes the changed balances together with the checkpoint in one atomic batch.
// Zero balances are removed.
func (r *Repository) PutLedger(changed map[models.Address]uint64, cp *models.Checkpoint) error {
	cpBytes, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	batch := r.db.NewBatch()
	for addr, balance := range changed {
		if balance == 0 {
			batch.Delete(key(prefixBalance, addr[:]))
			continue
		}
		value := make([]byte, 8)
		binary.LittleEndian.PutUint64(value, balance)
		batch.Put(key(prefixBalance, addr[:]), value)
	}
	batch.Put(checkpointKey(cp.MilestoneIndex), cpBytes)

	if err := r.db.Write(batch); err != nil {
		return ierrors.Wrapf(err, "failed to store ledger at index %d", cp.MilestoneIndex)
	}
	return nil
}

// GetBalances loads all non-zero balances
func (r *Repository) GetBalances() (map[models.Address]uint64, error) {
	iter := r.db.NewIterator([]byte{prefixBalance})
	defer iter.Release()

	balances := make(map[models.Address]uint64)
	for iter.Next() {
		var addr models.Address
		copy(addr[:], iter.Key()[1:])
		balances[addr] = binary.LittleEndian.Uint64(iter.Value())
	}
	return balances, iter.Error()
}

// checkpoint keys use a big-endian index so the latest one sorts last
func checkpointKey(index models.MilestoneIndex) []byte {
	k := []byte(checkpointPrefix)
	return binary.BigEndian.AppendUint32(k, uint32(index))
}

// GetLatestCheckpoint retrieves the most recent ledger checkpoint, nil if none was written
func (r *Repository) GetLatestCheckpoint() (*models.Checkpoint, error) {
	iter := r.db.NewIterator([]byte(checkpointPrefix))
	defer iter.Release()

	if !iter.Last() {
		return nil, iter.Error()
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(iter.Value(), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
