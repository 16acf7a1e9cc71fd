package models

import (
	"github.com/iotaledger/hive.go/ierrors"
)

var ErrConeIndexAlreadySet = ierrors.New("cone index already set")

// MetadataFlag is a bit in Metadata.Flags.
type MetadataFlag uint8

const (
	FlagSolid MetadataFlag = 1 << iota
	FlagRequested
	FlagMilestone
	FlagConfirmed
)

// Metadata is the mutable state of a vertex. It is only changed through the Tangle's
// UpdateMetadata so copies handed out are never torn.
type Metadata struct {
	Flags              MetadataFlag   `json:"flags"`
	MilestoneIndex     MilestoneIndex `json:"milestoneIndex,omitempty"`
	SolidificationTime int64          `json:"solidificationTime,omitempty"` // unix ms
	OTRSI              MilestoneIndex `json:"otrsi,omitempty"`
	YTRSI              MilestoneIndex `json:"ytrsi,omitempty"`
	TSIKnown           bool           `json:"tsiKnown,omitempty"`
	ConeIndex          MilestoneIndex `json:"coneIndex,omitempty"`
}

func (m Metadata) Has(flag MetadataFlag) bool {
	return m.Flags&flag != 0
}

func (m *Metadata) Set(flag MetadataFlag) {
	m.Flags |= flag
}

func (m Metadata) IsSolid() bool     { return m.Has(FlagSolid) }
func (m Metadata) IsRequested() bool { return m.Has(FlagRequested) }
func (m Metadata) IsMilestone() bool { return m.Has(FlagMilestone) }
func (m Metadata) IsConfirmed() bool { return m.Has(FlagConfirmed) }

// SetSolid marks the vertex solid at the given unix ms timestamp. It returns false if it already was.
func (m *Metadata) SetSolid(timestamp int64) bool {
	if m.IsSolid() {
		return false
	}
	m.Set(FlagSolid)
	m.SolidificationTime = timestamp
	return true
}

func (m *Metadata) SetMilestone(index MilestoneIndex) {
	m.Set(FlagMilestone)
	m.MilestoneIndex = index
}

// Bounds returns OTRSI and YTRSI, ok is false while they are unknown.
func (m Metadata) Bounds() (otrsi, ytrsi MilestoneIndex, ok bool) {
	return m.OTRSI, m.YTRSI, m.TSIKnown
}

// SetBounds stores OTRSI and YTRSI and reports whether anything changed.
func (m *Metadata) SetBounds(otrsi, ytrsi MilestoneIndex) bool {
	if m.TSIKnown && m.OTRSI == otrsi && m.YTRSI == ytrsi {
		return false
	}
	m.OTRSI, m.YTRSI, m.TSIKnown = otrsi, ytrsi, true
	return true
}

// Confirm sets the cone index and pins the tip selection bounds to it.
func (m *Metadata) Confirm(coneIndex MilestoneIndex) error {
	if m.IsConfirmed() {
		return ierrors.Wrapf(ErrConeIndexAlreadySet, "cone index %d, attempted %d", m.ConeIndex, coneIndex)
	}
	m.Set(FlagConfirmed)
	m.ConeIndex = coneIndex
	m.OTRSI, m.YTRSI, m.TSIKnown = coneIndex, coneIndex, true
	return nil
}
