package linker

import (
	"debug/elf"

	"github.com/tinylink/x64ld/pkg/utils"
)

// WriteTo copies isec's content into dst — isec's assigned slice of
// the output image — then patches every relocation into place.
// SHF_ALLOC sections go through the full applier (GOT/PLT/TLS/dynamic
// relocations all live); everything else goes through the narrower
// one that only understands a plain address or DTPOFF64.
func (isec *InputSection) WriteTo(ctx *Context, dst []byte) {
	copy(dst, isec.Content)
	if len(isec.Rels) == 0 {
		return
	}
	if isec.Alloc() {
		isec.applyRelocAlloc(ctx, dst)
	} else {
		isec.applyRelocNonAlloc(ctx, dst)
	}
}

// applyRelocAlloc patches every relocation in an SHF_ALLOC section.
// S/A/P/G follow the same naming the Scanner's classification table
// uses: S is the symbol's (or its PLT stub's, or its fragment's)
// address, A the addend, P the relocation's own output address, G the
// symbol's GOT slot offset from the GOT's base.
func (isec *InputSection) applyRelocAlloc(ctx *Context, dst []byte) {
	file := isec.ObjFile
	gotAddr := ctx.Got.Shdr.Addr
	fragCursor := 0
	dynSlot := (file.ReldynOffset + isec.ReldynOffset) / uint32(RelaSize)

	for i := 0; i < len(isec.Rels); i++ {
		rel := &isec.Rels[i]
		sym := file.Symbols[rel.Sym]
		rt := elf.R_X86_64(rel.Type)
		loc := dst[rel.Offset:]

		var S uint64
		var A int64
		if i < len(isec.HasFragments) && isec.HasFragments[i] {
			ref := isec.FragRefs[fragCursor]
			fragCursor++
			S = ref.Frag.GetAddr()
			A = int64(ref.Offset)
		} else {
			if sym.PltIdx != noIndex {
				S = sym.GetPltAddr(ctx)
			} else {
				S = sym.GetAddr()
			}
			A = rel.Addend
		}
		P := isec.GetAddr() + rel.Offset
		G := sym.GetGotAddr(ctx) - gotAddr

		write := func(val int64) {
			overflowCheck(ctx, isec, sym, rt, val)
			writeVal(loc, rt, val)
		}

		switch isec.RelTypes[i] {
		case RNone:

		case RAbs:
			write(int64(S) + A)

		case RAbsDyn:
			val := int64(S) + A
			writeVal(loc, rt, val)
			ctx.RelaDyn.PutRelative(dynSlot, P, val)
			dynSlot++

		case RDyn:
			ctx.RelaDyn.PutDynSym(dynSlot, P, uint32(sym.DynsymIdx), uint32(elf.R_X86_64_64), A)
			dynSlot++

		case RPC:
			write(int64(S) + A - int64(P))

		case RGot:
			write(int64(G) + A)

		case RGotPC:
			write(int64(gotAddr) + A - int64(P))

		case RGotPCRel:
			write(int64(G) + int64(gotAddr) + A - int64(P))

		case RTlsGd:
			write(int64(sym.GetTlsGdAddr(ctx)) + A - int64(P))

		case RTlsGdRelaxLE:
			val := int64(S) - int64(ctx.TLSEnd) + A + 4
			applyTlsGdRelaxLE(dst, rel, val)
			i++ // the paired PLT32 relocation carries no action of its own

		case RTlsLd:
			write(int64(ctx.Got.GetTlsLdAddr(ctx)) + A - int64(P))

		case RTlsLdRelaxLE:
			applyTlsLdRelaxLE(dst, rel)
			i++

		case RDtpoff:
			write(int64(S) + A - int64(ctx.TLSBegin))

		case RTpoff:
			write(int64(S) + A - int64(ctx.TLSEnd))

		case RGotTpoff:
			write(int64(sym.GetGotTpoffAddr(ctx)) + A - int64(P))
		}
	}
}

// applyTlsGdRelaxLE rewrites the 16 bytes starting 4 bytes before the
// TLSGD relocation's own offset into the General Dynamic access
// sequence's Local Exec equivalent: "mov %fs:0, %rax; lea
// x@tpoff(%rax), %rax". val is the pre-computed tpoff-relative offset,
// patched into the lea's 4-byte displacement.
func applyTlsGdRelaxLE(dst []byte, rel *Rela, val int64) {
	tmpl := []byte{0x64, 0x48, 0x8b, 0x04, 0x25, 0, 0, 0, 0, 0x48, 0x8d, 0x80, 0, 0, 0, 0}
	copy(dst[rel.Offset-4:], tmpl)
	utils.Write[uint32](dst[rel.Offset+8:], uint32(val))
}

// applyTlsLdRelaxLE rewrites the 12 bytes starting 3 bytes before the
// TLSLD relocation's offset into a 3-instruction-wide no-op load of
// the thread pointer: every per-variable offset in this module still
// comes from its own DTPOFF relocation, so the LD sequence itself
// patches in nothing but padding once relaxed.
func applyTlsLdRelaxLE(dst []byte, rel *Rela) {
	tmpl := []byte{0x66, 0x66, 0x66, 0x64, 0x48, 0x8b, 0x04, 0x25, 0, 0, 0, 0}
	copy(dst[rel.Offset-3:], tmpl)
}

// applyRelocNonAlloc patches relocations in a section the loader never
// maps: debug info, in this module's output set. Only a plain address
// store and DTPOFF64 make sense there; anything PC-relative or
// GOT/PLT/TLS-flavored means a compiler emitted a relocation a
// non-allocated section should never carry.
func (isec *InputSection) applyRelocNonAlloc(ctx *Context, dst []byte) {
	file := isec.ObjFile
	fragCursor := 0

	for i := 0; i < len(isec.Rels); i++ {
		rel := &isec.Rels[i]
		sym := file.Symbols[rel.Sym]
		rt := elf.R_X86_64(rel.Type)
		loc := dst[rel.Offset:]

		if sym.IsPlaceholder || (sym.File == nil && !sym.IsUndefWeak) {
			ctx.Diag.Reportf("%s: %s: undefined symbol: %s", file.File.Name, isec.Name, sym.Name)
			continue
		}

		hasFrag := i < len(isec.HasFragments) && isec.HasFragments[i]
		var S uint64
		var A int64
		if hasFrag {
			ref := isec.FragRefs[fragCursor]
			fragCursor++
			S = ref.Frag.GetAddr()
			A = int64(ref.Offset)
		} else {
			S = sym.GetAddr()
			A = rel.Addend
		}

		switch rt {
		case elf.R_X86_64_NONE:

		case elf.R_X86_64_8, elf.R_X86_64_16, elf.R_X86_64_32, elf.R_X86_64_32S, elf.R_X86_64_64:
			val := int64(S) + A
			overflowCheck(ctx, isec, sym, rt, val)
			writeVal(loc, rt, val)

		case elf.R_X86_64_DTPOFF64:
			writeVal(loc, rt, int64(S)+A-int64(ctx.TLSBegin))

		default:
			ctx.Diag.Reportf("%s: %s: invalid relocation for non-allocated section: %s", file.File.Name, isec.Name, rt)
		}
	}
}

// overflowCheck enforces the range every relocation width permits,
// matching the x86-64 psABI's per-type field width: 8/16-bit absolute
// forms are unsigned, their PC-relative counterparts signed, the whole
// 32-bit-signed family (32S, PC32, GOT-relative, PLT32, TLS, TPOFF32,
// DTPOFF32, GOTTPOFF) shares one signed 32-bit range, and the 64-bit
// and NONE forms are never checked since nothing narrower could
// truncate them.
func overflowCheck(ctx *Context, isec *InputSection, sym *Symbol, rt elf.R_X86_64, val int64) {
	fail := func(lo, hi int64) {
		ctx.Diag.Reportf("%s: %s: relocation against symbol `%s' out of range: %d is not in [%d, %d]",
			isec.ObjFile.File.Name, isec.Name, sym.Name, val, lo, hi)
	}

	switch rt {
	case elf.R_X86_64_8:
		if val < 0 || val > 0xff {
			fail(0, 0xff)
		}
	case elf.R_X86_64_PC8:
		if val < -0x80 || val > 0x7f {
			fail(-0x80, 0x7f)
		}
	case elf.R_X86_64_16:
		if val < 0 || val > 0xffff {
			fail(0, 0xffff)
		}
	case elf.R_X86_64_PC16:
		if val < -0x8000 || val > 0x7fff {
			fail(-0x8000, 0x7fff)
		}
	case elf.R_X86_64_32:
		if val < 0 || val > 0xffffffff {
			fail(0, 0xffffffff)
		}
	case elf.R_X86_64_32S, elf.R_X86_64_PC32, elf.R_X86_64_GOT32, elf.R_X86_64_GOTPC32,
		elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX,
		elf.R_X86_64_PLT32, elf.R_X86_64_TLSGD, elf.R_X86_64_TLSLD, elf.R_X86_64_TPOFF32,
		elf.R_X86_64_DTPOFF32, elf.R_X86_64_GOTTPOFF:
		if val < -0x80000000 || val > 0x7fffffff {
			fail(-0x80000000, 0x7fffffff)
		}
	}
}

// writeVal stores val at loc, little-endian, at the width rt's ELF
// type dictates. NONE and every 64-bit form that overflowCheck leaves
// unchecked are handled here too, just with no range validation ahead
// of the store.
func writeVal(loc []byte, rt elf.R_X86_64, val int64) {
	switch rt {
	case elf.R_X86_64_NONE:

	case elf.R_X86_64_8, elf.R_X86_64_PC8:
		utils.Write[uint8](loc, uint8(val))

	case elf.R_X86_64_16, elf.R_X86_64_PC16:
		utils.Write[uint16](loc, uint16(val))

	case elf.R_X86_64_32, elf.R_X86_64_32S, elf.R_X86_64_PC32, elf.R_X86_64_GOT32,
		elf.R_X86_64_GOTPC32, elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX,
		elf.R_X86_64_REX_GOTPCRELX, elf.R_X86_64_PLT32, elf.R_X86_64_TLSGD,
		elf.R_X86_64_TLSLD, elf.R_X86_64_TPOFF32, elf.R_X86_64_DTPOFF32,
		elf.R_X86_64_GOTTPOFF:
		utils.Write[uint32](loc, uint32(val))

	case elf.R_X86_64_64, elf.R_X86_64_PC64, elf.R_X86_64_TPOFF64, elf.R_X86_64_DTPOFF64:
		utils.Write[uint64](loc, uint64(val))
	}
}
