package linker

import (
	"debug/elf"
	"sync"
	"sync/atomic"

	"github.com/ianlancetaylor/demangle"
)

// Request flags, set by the Relocation Scanner and read by layout and
// the Applier. Merged into Symbol.flags with
// atomic bitwise-OR so concurrent scans of different sections that
// happen to reference the same symbol never lose a bit.
const (
	NeedsGot uint32 = 1 << iota
	NeedsPlt
	NeedsCopyrel
	NeedsDynsym
	NeedsTlsGd
	NeedsTlsLd
	NeedsGotTpoff
)

const noIndex = -1

// Symbol is the process-wide identity for one name. Every
// mutable authoritative field is guarded by mu; readers after
// resolution has completed read without synchronization, since nothing
// mutates these fields past that point.
type Symbol struct {
	Name string

	mu sync.Mutex

	File            *ObjectFile
	InputSection    *InputSection
	SectionFragment *SectionFragment
	Value           uint64
	SymIdx          uint32
	SymType         elf.SymType
	Visibility      elf.SymVis

	IsPlaceholder bool
	IsWeak        bool
	IsUndefWeak   bool
	IsCommonDef   bool
	IsDSO         bool
	Traced        bool

	// Priority of the file that currently owns this definition; used
	// only to evaluate tie_but_higher_priority without re-locking File.
	priority int64

	flags atomic.Uint32

	PltIdx      int32
	GotIdx      int32
	GotTpoffIdx int32
	TlsGdIdx    int32
	DynsymIdx   int32
}

func NewSymbol(name string) *Symbol {
	return &Symbol{
		Name:        name,
		PltIdx:      noIndex,
		GotIdx:      noIndex,
		GotTpoffIdx: noIndex,
		TlsGdIdx:    noIndex,
		DynsymIdx:   noIndex,
	}
}

// Lock/Unlock expose the per-symbol lock to the resolver's multi-step
// classify-then-replace sequence, which needs to hold the
// lock across several field reads and writes, not just one.
func (s *Symbol) Lock()   { s.mu.Lock() }
func (s *Symbol) Unlock() { s.mu.Unlock() }

// SetInputSection and SetSectionFragment are mutually exclusive: a
// symbol's value is always interpreted relative to exactly one of an
// InputSection or a SectionFragment. Callers must hold s.mu.
func (s *Symbol) SetInputSection(section *InputSection) {
	s.InputSection = section
	s.SectionFragment = nil
}

func (s *Symbol) SetSectionFragment(frag *SectionFragment) {
	s.SectionFragment = frag
	s.InputSection = nil
}

// AddFlags ORs bits into the request-flag bitmask atomically.
func (s *Symbol) AddFlags(bits uint32) {
	s.flags.Or(bits)
}

func (s *Symbol) Flags() uint32 {
	return s.flags.Load()
}

func (s *Symbol) NeedsGot() bool      { return s.flags.Load()&NeedsGot != 0 }
func (s *Symbol) NeedsPlt() bool      { return s.flags.Load()&NeedsPlt != 0 }
func (s *Symbol) NeedsCopyrel() bool  { return s.flags.Load()&NeedsCopyrel != 0 }
func (s *Symbol) NeedsDynsym() bool   { return s.flags.Load()&NeedsDynsym != 0 }
func (s *Symbol) NeedsTlsGd() bool    { return s.flags.Load()&NeedsTlsGd != 0 }
func (s *Symbol) NeedsTlsLd() bool    { return s.flags.Load()&NeedsTlsLd != 0 }
func (s *Symbol) NeedsGotTpoff() bool { return s.flags.Load()&NeedsGotTpoff != 0 }

// IsUndef reports whether this symbol currently has no defining file
// at all (neither a real definition nor an archive placeholder).
func (s *Symbol) IsUndef() bool {
	return s.File == nil && !s.IsUndefWeak
}

func (s *Symbol) GetAddr() uint64 {
	if s.SectionFragment != nil {
		return s.SectionFragment.GetAddr() + s.Value
	}
	if s.InputSection != nil {
		return s.InputSection.GetAddr() + s.Value
	}
	return s.Value
}

func (s *Symbol) GetGotAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GotIdx)*8
}

func (s *Symbol) GetGotTpoffAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GotTpoffIdx)*8
}

func (s *Symbol) GetTlsGdAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.TlsGdIdx)*8
}

func (s *Symbol) GetPltAddr(ctx *Context) uint64 {
	if s.PltIdx == noIndex {
		return 0
	}
	return pltHeaderSize + uint64(s.PltIdx)*pltEntrySize
}

// TracedName demangles Name for diagnostic output. The Traced flag is
// stored on the symbol but no phase reads it: resolution, archive
// liveness and scanning emit no trace lines for it. Non-mangled names
// (most C symbols) pass through unchanged since demangle.Filter leaves
// anything it doesn't recognize as-is.
func (s *Symbol) TracedName() string {
	return demangle.Filter(s.Name)
}
