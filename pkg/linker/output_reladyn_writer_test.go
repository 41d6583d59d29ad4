package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignReldynOffsets_AssignsContiguousOffsetsInFileOrder(t *testing.T) {
	ctx := NewContext()

	fileA := &ObjectFile{Priority: 0, NumDynrel: 2}
	fileA.SetAlive(true)
	fileB := &ObjectFile{Priority: 1, NumDynrel: 1}
	fileB.SetAlive(true)
	ctx.Objs = []*ObjectFile{fileA, fileB}

	AssignReldynOffsets(ctx)

	assert.Equal(t, uint32(0), fileA.ReldynOffset)
	assert.Equal(t, uint32(2*RelaSize), fileB.ReldynOffset)
	assert.Len(t, ctx.RelaDyn.Entries, 3)
	assert.Equal(t, uint64(3*RelaSize), ctx.RelaDyn.Shdr.Size)
}

func TestAssignReldynOffsets_SkipsDeadFiles(t *testing.T) {
	ctx := NewContext()

	dead := &ObjectFile{Priority: 0, IsInArchive: true, NumDynrel: 5}
	live := &ObjectFile{Priority: 1, NumDynrel: 1}
	live.SetAlive(true)
	ctx.Objs = []*ObjectFile{dead, live}

	AssignReldynOffsets(ctx)

	assert.Equal(t, uint32(0), live.ReldynOffset, "the dead file's NumDynrel must not shift a live file's offset")
	assert.Len(t, ctx.RelaDyn.Entries, 1)
}

func TestOutputRelaDynWriter_PutRelativeAndPutDynSym(t *testing.T) {
	w := NewOutputRelaDynWriter()
	w.Entries = make([]Rela, 2)

	w.PutRelative(0, 0x1000, 7)
	w.PutDynSym(1, 0x2000, 3, 1, -4)

	require.Equal(t, Rela{Offset: 0x1000, Type: relRelative, Addend: 7}, w.Entries[0])
	require.Equal(t, Rela{Offset: 0x2000, Sym: 3, Type: 1, Addend: -4}, w.Entries[1])
}
