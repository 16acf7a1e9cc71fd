// Package tpkg contains helpers to build Tangles in tests.
package tpkg

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"tangle-core/dag"
	"tangle-core/models"
)

// GenesisAlias names the solid entry point every Frame starts with.
const GenesisAlias = "Genesis"

// Frame builds a Tangle from aliased messages.
type Frame struct {
	Tangle *dag.Tangle
	SEPs   *dag.SolidEntryPoints

	ids   map[string]models.MessageID
	nonce uint64
}

// NewFrame returns a Frame whose Genesis alias is a solid entry point confirmed at index 0.
func NewFrame(opts ...dag.Option) *Frame {
	f := &Frame{
		Tangle: dag.New(opts...),
		SEPs:   dag.NewSolidEntryPoints(nil),
		ids:    make(map[string]models.MessageID),
	}
	genesis := models.MessageID(blake2b.Sum256([]byte(GenesisAlias)))
	f.ids[GenesisAlias] = genesis
	if err := f.SEPs.Add(genesis, 0); err != nil {
		panic(err)
	}
	return f
}

// Message builds the message for alias without inserting it.
func (f *Frame) Message(alias, parent1, parent2 string, payload models.Payload) (models.MessageID, *models.Message) {
	f.nonce++
	msg := &models.Message{
		Parent1: f.ID(parent1),
		Parent2: f.ID(parent2),
		Payload: payload,
		Nonce:   f.nonce,
	}
	id := msg.ID()
	f.ids[alias] = id
	return id, msg
}

// Attach builds and inserts the message for alias.
func (f *Frame) Attach(alias, parent1, parent2 string, payload models.Payload) models.MessageID {
	id, msg := f.Message(alias, parent1, parent2, payload)
	f.Tangle.Insert(id, msg, models.Metadata{})
	return id
}

// ID returns the id registered for alias, unknown aliases get a stable placeholder id.
func (f *Frame) ID(alias string) models.MessageID {
	if id, ok := f.ids[alias]; ok {
		return id
	}
	id := models.MessageID(blake2b.Sum256([]byte("placeholder:" + alias)))
	f.ids[alias] = id
	return id
}

// IDs resolves a list of aliases.
func (f *Frame) IDs(aliases ...string) models.MessageIDs {
	ids := make(models.MessageIDs, len(aliases))
	for i, alias := range aliases {
		ids[i] = f.ID(alias)
	}
	return ids
}

// Alias returns the alias of id, for readable assertion failures.
func (f *Frame) Alias(id models.MessageID) string {
	for alias, candidate := range f.ids {
		if candidate == id {
			return alias
		}
	}
	return fmt.Sprintf("unknown(%s)", id)
}

// Aliases maps ids back to aliases.
func (f *Frame) Aliases(ids models.MessageIDs) []string {
	aliases := make([]string, len(ids))
	for i, id := range ids {
		aliases[i] = f.Alias(id)
	}
	return aliases
}

// Address derives a stable address from a name.
func Address(name string) models.Address {
	return models.Address(blake2b.Sum256([]byte("address:" + name)))
}

// Transfer is a transaction moving amount from one address to another.
func Transfer(from, to models.Address, amount uint64) *models.Transaction {
	return &models.Transaction{
		Inputs:  []models.Transfer{{Address: from, Amount: amount}},
		Outputs: []models.Transfer{{Address: to, Amount: amount}},
	}
}
