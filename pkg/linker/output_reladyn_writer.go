package linker

import "github.com/tinylink/x64ld/pkg/utils"

// relRelative is R_X86_64_RELATIVE: a base relocation the loader
// resolves by adding its own load bias to Addend, with no symbol
// lookup at all. debug/elf doesn't name it since it never appears in
// a *.o* rel.Type the Scanner classifies directly — it's something the
// Applier itself manufactures for RAbsDyn targets.
const relRelative = 8

// OutputRelaDynWriter is the synthetic .rela.dyn section every
// RAbsDyn/RDyn relocation the Applier walks feeds an entry into: a
// RELATIVE entry carries a pre-resolved addend and no symbol, a
// genuine dynamic-symbol entry carries a dynsym index for the loader
// to resolve at load time. Entries is pre-sized by AssignReldynOffsets
// once every live file's NumDynrel is known, so concurrent Applier
// goroutines each write their own slot without racing.
type OutputRelaDynWriter struct {
	OutputWriter
	Entries []Rela
}

func NewOutputRelaDynWriter() *OutputRelaDynWriter {
	w := &OutputRelaDynWriter{OutputWriter: *NewOutputWriter()}
	w.Name = ".rela.dyn"
	w.Shdr.AddrAlign = 8
	w.Shdr.EntSize = uint64(RelaSize)
	return w
}

// AssignReldynOffsets computes every live file's starting slot within
// the shared .rela.dyn array from the NumDynrel count ScanRelocations
// left on it, in file order, then sizes Entries to hold every slot the
// Applier will write. Must run after ScanRelocations and before Apply.
func AssignReldynOffsets(ctx *Context) {
	var total uint32
	for _, f := range ctx.Objs {
		if !f.IsAlive() {
			continue
		}
		f.ReldynOffset = total
		total += f.NumDynrel * uint32(RelaSize)
	}
	ctx.RelaDyn.Entries = make([]Rela, total/uint32(RelaSize))
	ctx.RelaDyn.Shdr.Size = uint64(total)
}

// PutRelative records a load-time base relocation at slot.
func (w *OutputRelaDynWriter) PutRelative(slot uint32, offset uint64, addend int64) {
	w.Entries[slot] = Rela{Offset: offset, Type: relRelative, Addend: addend}
}

// PutDynSym records a dynamic-symbol relocation at slot: the loader
// resolves dynsymIdx against the output's dynamic symbol table (not
// modeled by this module; see DESIGN.md) and combines the result with
// addend the way relType specifies.
func (w *OutputRelaDynWriter) PutDynSym(slot uint32, offset uint64, dynsymIdx uint32, relType uint32, addend int64) {
	w.Entries[slot] = Rela{Offset: offset, Type: relType, Sym: dynsymIdx, Addend: addend}
}

func (w *OutputRelaDynWriter) CopyBuf(ctx *Context) {
	base := ctx.Buf[w.Shdr.Offset:]
	for i, e := range w.Entries {
		off := i * RelaSize
		utils.Write[uint64](base[off:], e.Offset)
		utils.Write[uint64](base[off+8:], uint64(e.Sym)<<32|uint64(e.Type))
		utils.Write[int64](base[off+16:], e.Addend)
	}
}
