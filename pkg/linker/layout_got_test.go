package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateGotEntries_LaysOutRegionsContiguouslyInOrder(t *testing.T) {
	ctx := NewContext()

	got := ctx.Intern("got_sym")
	got.AddFlags(NeedsGot)

	tpoff := ctx.Intern("tpoff_sym")
	tpoff.AddFlags(NeedsGotTpoff)

	gd := ctx.Intern("gd_sym")
	gd.AddFlags(NeedsTlsGd)

	AllocateGotEntries(ctx)

	assert.Equal(t, int32(0), got.GotIdx)
	assert.Equal(t, int32(1), tpoff.GotTpoffIdx)
	assert.Equal(t, int32(2), gd.TlsGdIdx)
	// regular (1) + tpoff (1) + gd pair (2) = 4 words, no TLS LD block requested
	assert.Equal(t, uint64(4*8), ctx.Got.Shdr.Size)
}

func TestAllocateGotEntries_RequestsTlsLdBlockWhenAnySymbolNeedsIt(t *testing.T) {
	ctx := NewContext()

	sym := ctx.Intern("ld_sym")
	sym.AddFlags(NeedsTlsLd)

	AllocateGotEntries(ctx)

	require.True(t, ctx.Got.needsTlsLd)
	assert.Equal(t, uint64(2*8), ctx.Got.Shdr.Size, "a TLS LD request alone still reserves a 2-word module-index pair")
}

func TestAllocateGotEntries_IncludesLocalSymbolsFromLiveFilesOnly(t *testing.T) {
	ctx := NewContext()

	liveFile := &ObjectFile{Priority: 0}
	liveFile.SetAlive(true)
	liveLocal := NewSymbol("live_local")
	liveLocal.AddFlags(NeedsGot)
	liveFile.LocalSymbols = []*Symbol{liveLocal}

	deadFile := &ObjectFile{Priority: 1, IsInArchive: true}
	deadLocal := NewSymbol("dead_local")
	deadLocal.AddFlags(NeedsGot)
	deadFile.LocalSymbols = []*Symbol{deadLocal}

	ctx.Objs = []*ObjectFile{liveFile, deadFile}

	AllocateGotEntries(ctx)

	assert.Equal(t, int32(0), liveLocal.GotIdx)
	assert.Equal(t, int32(noIndex), deadLocal.GotIdx, "a dead archive member's local symbol is never visited, so it keeps its unassigned index")
	assert.Equal(t, uint64(1*8), ctx.Got.Shdr.Size)
}

func TestAllocateGotEntries_SymbolWithNoRequestFlagsGetsNoSlot(t *testing.T) {
	ctx := NewContext()
	ctx.Intern("plain")

	AllocateGotEntries(ctx)

	assert.Equal(t, uint64(0), ctx.Got.Shdr.Size)
}
