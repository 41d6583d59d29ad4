package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeCommonSymbols_GivesWinningCommonDefARealSection(t *testing.T) {
	ctx := NewContext()

	file := &ObjectFile{Priority: 0, TotalSyms: 1, TotalSecs: 2}
	file.SetAlive(true)

	sym := NewSymbol("buf")
	sym.File = file
	sym.IsCommonDef = true
	file.Symbols = []*Symbol{sym}
	file.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_COMMON), Val: 16, Size: 64}}
	file.CommonSymIndices = []uint32{0}
	ctx.Objs = []*ObjectFile{file}

	MaterializeCommonSymbols(ctx)

	require.Len(t, file.InputSections, 1)
	isec := file.InputSections[0]
	assert.Equal(t, uint64(64), isec.Shdr.Size)
	assert.Equal(t, uint64(1), isec.Shdr.AddrAlign, "the synthesized section's alignment is always 1, regardless of the requested st_value")
	assert.Equal(t, elf.SHT_NOBITS, elf.SectionType(isec.Shdr.Type))
	assert.Equal(t, ".bss", isec.Name)
	assert.Same(t, ctx.GetBssSection(), isec.OutputSection, "a materialized common symbol must attach to the shared .bss singleton")
	assert.Same(t, isec, sym.InputSection)
	assert.Equal(t, uint64(0), sym.Value)
}

// TestMaterializeCommonSymbols_SharesOneBssOutputSectionAcrossFiles
// exercises the get-or-create contract: two different files each
// materializing their own winning common symbol must attach to the
// very same .bss OutputSection instance, not one each.
func TestMaterializeCommonSymbols_SharesOneBssOutputSectionAcrossFiles(t *testing.T) {
	ctx := NewContext()

	fileA := &ObjectFile{Priority: 0, TotalSyms: 1, TotalSecs: 1}
	fileA.SetAlive(true)
	symA := NewSymbol("bufA")
	symA.File = fileA
	symA.IsCommonDef = true
	fileA.Symbols = []*Symbol{symA}
	fileA.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_COMMON), Val: 8, Size: 32}}
	fileA.CommonSymIndices = []uint32{0}

	fileB := &ObjectFile{Priority: 1, TotalSyms: 1, TotalSecs: 1}
	fileB.SetAlive(true)
	symB := NewSymbol("bufB")
	symB.File = fileB
	symB.IsCommonDef = true
	fileB.Symbols = []*Symbol{symB}
	fileB.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_COMMON), Val: 4, Size: 4}}
	fileB.CommonSymIndices = []uint32{0}

	ctx.Objs = []*ObjectFile{fileA, fileB}

	MaterializeCommonSymbols(ctx)

	require.Len(t, fileA.InputSections, 1)
	require.Len(t, fileB.InputSections, 1)
	assert.Same(t, fileA.InputSections[0].OutputSection, fileB.InputSections[0].OutputSection,
		"every materialized common symbol shares the one .bss OutputSection singleton")
}

func TestMaterializeCommonSymbols_SkipsLosingCommonDef(t *testing.T) {
	ctx := NewContext()

	// Two archive members both tentatively defined "buf"; only the one
	// sym.File still points at after resolution should materialize.
	winner := &ObjectFile{Priority: 0, TotalSyms: 1, TotalSecs: 1}
	winner.SetAlive(true)
	loser := &ObjectFile{Priority: 1, TotalSyms: 1, TotalSecs: 1}
	loser.SetAlive(true)

	shared := NewSymbol("buf")
	shared.File = winner
	shared.IsCommonDef = true

	winnerSym := shared
	loserSym := NewSymbol("buf")
	loserSym.File = winner // resolution already settled on winner, not loser
	loserSym.IsCommonDef = true

	winner.Symbols = []*Symbol{winnerSym}
	winner.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_COMMON), Val: 8, Size: 32}}
	winner.CommonSymIndices = []uint32{0}

	loser.Symbols = []*Symbol{loserSym}
	loser.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_COMMON), Val: 8, Size: 32}}
	loser.CommonSymIndices = []uint32{0}

	ctx.Objs = []*ObjectFile{winner, loser}

	MaterializeCommonSymbols(ctx)

	assert.Len(t, winner.InputSections, 1, "the file sym.File points at must materialize its common section")
	assert.Empty(t, loser.InputSections, "a file whose own symbol slot no longer owns the winning definition must not materialize")
}

func TestMaterializeCommonSymbols_SkipsDeadAndDSOFiles(t *testing.T) {
	ctx := NewContext()

	dead := &ObjectFile{Priority: 0, IsInArchive: true, TotalSyms: 1, TotalSecs: 1}
	sym := NewSymbol("buf")
	sym.File = dead
	sym.IsCommonDef = true
	dead.Symbols = []*Symbol{sym}
	dead.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_COMMON), Val: 8, Size: 32}}
	dead.CommonSymIndices = []uint32{0}

	dso := &ObjectFile{Priority: 1, IsDSO: true, TotalSyms: 1, TotalSecs: 1}
	dso.SetAlive(true)
	dsoSym := NewSymbol("libbuf")
	dsoSym.File = dso
	dsoSym.IsCommonDef = true
	dso.Symbols = []*Symbol{dsoSym}
	dso.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_COMMON), Val: 8, Size: 32}}
	dso.CommonSymIndices = []uint32{0}

	ctx.Objs = []*ObjectFile{dead, dso}

	MaterializeCommonSymbols(ctx)

	assert.Empty(t, dead.InputSections, "a not-yet-alive archive member must not materialize common symbols")
	assert.Empty(t, dso.InputSections, "a DSO has no common symbols of its own to materialize")
}
