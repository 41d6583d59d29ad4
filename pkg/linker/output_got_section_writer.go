package linker

import (
	"debug/elf"

	"github.com/tinylink/x64ld/pkg/utils"
)

// OutputGotSectionWriter is the synthetic .got section every symbol
// flagged NeedsGot/NeedsGotTpoff/NeedsTlsGd during scanning draws a
// slot from. Slots are grouped by kind — regular GOT entries (8-byte
// runtime addresses), IE entries (8-byte offsets from the thread
// pointer) and GD pairs (16 bytes: a TLS module index and an
// in-module offset) — each region laid out contiguously once
// AllocateGotEntries has seen every symbol, since a symbol's GotIdx is
// meaningless until the regions ahead of its own are known.
type OutputGotSectionWriter struct {
	OutputWriter

	GotSyms      []*Symbol
	GotTpoffSyms []*Symbol
	TlsGdSyms    []*Symbol

	needsTlsLd bool
	tlsLdIdx   int32
}

// staticModuleIdx is the TLS module index this linker assigns its own
// output: it never produces a shared object, so every GD/LD access
// resolves to the executable's own (and only) TLS module.
const staticModuleIdx = 1

func NewOutputGotSectionWriter() *OutputGotSectionWriter {
	g := &OutputGotSectionWriter{
		OutputWriter: *NewOutputWriter(),
		tlsLdIdx:     noIndex,
	}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *OutputGotSectionWriter) AddGotSym(sym *Symbol)      { g.GotSyms = append(g.GotSyms, sym) }
func (g *OutputGotSectionWriter) AddGotTpoffSym(sym *Symbol) { g.GotTpoffSyms = append(g.GotTpoffSyms, sym) }
func (g *OutputGotSectionWriter) AddTlsGdSym(sym *Symbol)    { g.TlsGdSyms = append(g.TlsGdSyms, sym) }
func (g *OutputGotSectionWriter) RequestTlsLd()              { g.needsTlsLd = true }

// Finalize assigns every requested symbol its word index within .got
// and sizes the section, once and only once every request has been
// made: the relocation scanner feeds it, and the layout phase calls it
// before sizing the output. Must run before CopyBuf.
func (g *OutputGotSectionWriter) Finalize() {
	idx := int32(0)
	for _, s := range g.GotSyms {
		s.GotIdx = idx
		idx++
	}
	for _, s := range g.GotTpoffSyms {
		s.GotTpoffIdx = idx
		idx++
	}
	for _, s := range g.TlsGdSyms {
		s.TlsGdIdx = idx
		idx += 2
	}
	if g.needsTlsLd {
		g.tlsLdIdx = idx
		idx += 2
	}
	g.Shdr.Size = uint64(idx) * 8
}

func (g *OutputGotSectionWriter) GetTlsLdAddr(ctx *Context) uint64 {
	return g.Shdr.Addr + uint64(g.tlsLdIdx)*8
}

func (g *OutputGotSectionWriter) CopyBuf(ctx *Context) {
	base := ctx.Buf[g.Shdr.Offset:]

	for _, sym := range g.GotSyms {
		utils.Write[uint64](base[sym.GotIdx*8:], sym.GetAddr())
	}
	for _, sym := range g.GotTpoffSyms {
		utils.Write[uint64](base[sym.GotTpoffIdx*8:], sym.GetAddr()-ctx.TLSEnd)
	}
	for _, sym := range g.TlsGdSyms {
		off := uint64(sym.TlsGdIdx) * 8
		utils.Write[uint64](base[off:], uint64(staticModuleIdx))
		utils.Write[uint64](base[off+8:], sym.GetAddr()-ctx.TLSBegin)
	}
	if g.needsTlsLd {
		off := uint64(g.tlsLdIdx) * 8
		utils.Write[uint64](base[off:], uint64(staticModuleIdx))
		utils.Write[uint64](base[off+8:], 0)
	}
}
