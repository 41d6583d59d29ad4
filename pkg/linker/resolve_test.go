package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strongDefSym(shndx uint16) Sym {
	return Sym{Shndx: shndx, Info: uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_FUNC)}
}

func strongUndefSym() Sym {
	return Sym{Shndx: uint16(elf.SHN_UNDEF), Info: uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_FUNC)}
}

func weakUndefSym() Sym {
	return Sym{Shndx: uint16(elf.SHN_UNDEF), Info: uint8(elf.STB_WEAK)<<4 | uint8(elf.STT_FUNC)}
}

// TestResolveSymbols_ArchiveMemberPulledInByReference exercises archive
// laziness end to end: a member offering an unreferenced symbol stays
// out of the link, while a member defining a name some already-live
// file references gets pulled in.
func TestResolveSymbols_ArchiveMemberPulledInByReference(t *testing.T) {
	ctx := NewContext()

	fileA := &ObjectFile{Priority: 0, TotalSyms: 1}
	fileA.SetAlive(true)
	fileA.ElfSyms = []Sym{strongUndefSym()}
	fileA.Symbols = []*Symbol{ctx.Intern("foo")}

	fileB := &ObjectFile{Priority: 1, IsInArchive: true, TotalSyms: 1}
	fileB.ElfSyms = []Sym{strongDefSym(1)}
	fileB.Symbols = []*Symbol{ctx.Intern("foo")}

	fileC := &ObjectFile{Priority: 2, IsInArchive: true, TotalSyms: 1}
	fileC.ElfSyms = []Sym{strongDefSym(1)}
	fileC.Symbols = []*Symbol{ctx.Intern("bar")}

	ctx.Objs = []*ObjectFile{fileA, fileB, fileC}

	ResolveSymbols(ctx)

	assert.True(t, fileB.IsAlive(), "an archive member defining a referenced symbol must be pulled in")
	assert.False(t, fileC.IsAlive(), "an archive member whose symbols nothing references must stay out of the link")

	foo := ctx.Intern("foo")
	assert.Equal(t, fileB, foo.File)
	assert.False(t, foo.IsPlaceholder, "once pulled in, the definition must be re-registered as real, not a placeholder")
}

// TestResolveSymbols_DeadArchivePlaceholderLeavesWeakRefUndefWeak
// exercises the S4 edge case where an archive member's definition is
// only ever registered as a placeholder (it never gets referenced
// strongly, so markLiveArchiveMembers never pulls it alive): a weak
// undefined reference to the same name elsewhere must still resolve to
// undef-weak/0, not be left dangling against the dead file.
func TestResolveSymbols_DeadArchivePlaceholderLeavesWeakRefUndefWeak(t *testing.T) {
	ctx := NewContext()

	fileA := &ObjectFile{Priority: 0, TotalSyms: 1}
	fileA.SetAlive(true)
	fileA.ElfSyms = []Sym{weakUndefSym()}
	fileA.Symbols = []*Symbol{ctx.Intern("w")}

	fileB := &ObjectFile{Priority: 1, IsInArchive: true, TotalSyms: 1}
	fileB.ElfSyms = []Sym{strongDefSym(1)}
	fileB.Symbols = []*Symbol{ctx.Intern("w")}

	ctx.Objs = []*ObjectFile{fileA, fileB}

	ResolveSymbols(ctx)

	assert.False(t, fileB.IsAlive(), "nothing strongly references \"w\", so the archive member must never be pulled in")

	w := ctx.Intern("w")
	assert.True(t, w.IsUndefWeak, "a weak reference whose sole claimant is a never-pulled-in archive placeholder must resolve undef-weak")
	assert.Equal(t, uint64(0), w.Value)
}

// TestResolveComdatGroups_LowerFilePriorityWins exercises COMDAT
// dedup: when two files declare the same group signature, the file
// with the numerically lower (earlier) priority keeps its member
// sections and the other's are dropped, regardless of ctx.Objs order.
func TestResolveComdatGroups_LowerFilePriorityWins(t *testing.T) {
	ctx := NewContext()

	group := ctx.GetComdatGroup("grp1")

	fileHigh := &ObjectFile{Priority: 5}
	secHigh0 := NewInputSection(fileHigh, newEligibleShdr(), ".text.h0", []byte("H0"), 0)
	secHigh1 := NewInputSection(fileHigh, newEligibleShdr(), ".text.h1", []byte("H1"), 1)
	fileHigh.InputSections = []*InputSection{secHigh0, secHigh1}
	fileHigh.PendingComdat = []PendingComdat{{Group: group, MemberSecIdx: []uint32{0, 1}, LeaderSecIdx: 0}}

	fileLow := &ObjectFile{Priority: 1}
	secLow0 := NewInputSection(fileLow, newEligibleShdr(), ".text.l0", []byte("L0"), 0)
	secLow1 := NewInputSection(fileLow, newEligibleShdr(), ".text.l1", []byte("L1"), 1)
	fileLow.InputSections = []*InputSection{secLow0, secLow1}
	fileLow.PendingComdat = []PendingComdat{{Group: group, MemberSecIdx: []uint32{0, 1}, LeaderSecIdx: 0}}

	// Deliberately out of priority order: the winner must be chosen by
	// priority, not by which file resolveComdatGroups visits first.
	ctx.Objs = []*ObjectFile{fileHigh, fileLow}

	resolveComdatGroups(ctx)

	require.Equal(t, fileLow, group.File())
	assert.Nil(t, fileHigh.InputSections[0])
	assert.Nil(t, fileHigh.InputSections[1])
	assert.NotNil(t, fileLow.InputSections[0])
	assert.NotNil(t, fileLow.InputSections[1])
}
