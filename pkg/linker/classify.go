package linker

import (
	"debug/elf"

	"github.com/tinylink/x64ld/pkg/utils"
)

// ScanRelocations runs the classification pass over every live
// object's every SHF_ALLOC section: the result is a RelType action per
// relocation, plus the request flags it leaves set on each referenced
// Symbol, which everything downstream (layout's GOT/PLT/dynsym sizing,
// and the applier) depends on instead of re-deriving intent from the
// raw ELF relocation type at apply time. One file is scanned per
// worker; a file's own sections are scanned in order on that worker
// since they share its NumDynrel counter, but different files race
// freely since each only ever touches its own counter and symbols are
// only ever OR'd into atomically.
func ScanRelocations(ctx *Context) {
	utils.ParallelFor(len(ctx.Objs), func(i int) {
		file := ctx.Objs[i]
		if !file.IsAlive() {
			return
		}
		for _, isec := range file.InputSections {
			if isec != nil && isec.Alloc() {
				isec.scanRelocations(ctx)
			}
		}
	})
}

// scanRelocations classifies every relocation in isec, following the
// same table the original x86-64 psABI-targeting linker this design is
// based on uses: each entry picks the RelType action, and — for
// relocations a DSO-imported symbol or a GNU indirect function can
// satisfy only through the PLT/GOT/copy-relocation machinery — sets
// the matching request flag.
func (isec *InputSection) scanRelocations(ctx *Context) {
	file := isec.ObjFile
	isec.ReldynOffset = file.NumDynrel * uint32(RelaSize)
	isec.RelTypes = make([]RelType, len(isec.Rels))
	isReadonly := !isec.Shdr.Write()

	for i := 0; i < len(isec.Rels); i++ {
		rel := &isec.Rels[i]
		sym := file.Symbols[rel.Sym]
		isCode := sym.SymType == elf.STT_FUNC

		if (sym.File == nil || sym.IsPlaceholder) && !sym.IsUndefWeak {
			ctx.Diag.Reportf("%s: undefined symbol: %s", file.File.Name, sym.Name)
			continue
		}

		reportPIEError := func(rt elf.R_X86_64) {
			ctx.Diag.Reportf("%s: %s: relocation %d against symbol `%s' cannot be used; recompile with -fPIE",
				file.File.Name, isec.Name, rt, sym.Name)
		}

		switch elf.R_X86_64(rel.Type) {
		case elf.R_X86_64_NONE:
			isec.RelTypes[i] = RNone

		case elf.R_X86_64_8, elf.R_X86_64_16, elf.R_X86_64_32, elf.R_X86_64_32S:
			if ctx.Config.Pie && isRelative(sym) {
				reportPIEError(elf.R_X86_64(rel.Type))
			}
			if sym.IsDSO {
				sym.AddFlags(pickFlag(isCode, NeedsPlt, NeedsCopyrel))
			}
			isec.RelTypes[i] = RAbs

		case elf.R_X86_64_64:
			switch {
			case ctx.Config.Pie && sym.IsDSO:
				if isReadonly {
					reportPIEError(elf.R_X86_64_64)
				}
				sym.AddFlags(NeedsDynsym)
				isec.RelTypes[i] = RDyn
				file.NumDynrel++
			case ctx.Config.Pie && isRelative(sym):
				if isReadonly {
					reportPIEError(elf.R_X86_64_64)
				}
				isec.RelTypes[i] = RAbsDyn
				file.NumDynrel++
			default:
				if sym.IsDSO {
					sym.AddFlags(pickFlag(isCode, NeedsPlt, NeedsCopyrel))
				}
				isec.RelTypes[i] = RAbs
			}

		case elf.R_X86_64_PC8, elf.R_X86_64_PC16, elf.R_X86_64_PC32, elf.R_X86_64_PC64:
			if sym.IsDSO {
				sym.AddFlags(pickFlag(isCode, NeedsPlt, NeedsCopyrel))
			}
			isec.RelTypes[i] = RPC

		case elf.R_X86_64_GOT32:
			sym.AddFlags(NeedsGot)
			isec.RelTypes[i] = RGot

		case elf.R_X86_64_GOTPC32:
			sym.AddFlags(NeedsGot)
			isec.RelTypes[i] = RGotPC

		case elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX:
			sym.AddFlags(NeedsGot)
			isec.RelTypes[i] = RGotPCRel

		case elf.R_X86_64_PLT32:
			if sym.IsDSO || sym.SymType == elf.STT_GNU_IFUNC {
				sym.AddFlags(NeedsPlt)
			}
			isec.RelTypes[i] = RPC

		case elf.R_X86_64_TLSGD:
			if i+1 == len(isec.Rels) || elf.R_X86_64(isec.Rels[i+1].Type) != elf.R_X86_64_PLT32 {
				ctx.Diag.Reportf("%s: %s: TLSGD relocation not followed by PLT32", file.File.Name, isec.Name)
			}
			if ctx.Config.Relax && !sym.IsDSO {
				isec.RelTypes[i] = RTlsGdRelaxLE
				i++
			} else {
				sym.AddFlags(NeedsTlsGd | NeedsDynsym)
				isec.RelTypes[i] = RTlsGd
			}

		case elf.R_X86_64_TLSLD:
			if i+1 == len(isec.Rels) || elf.R_X86_64(isec.Rels[i+1].Type) != elf.R_X86_64_PLT32 {
				ctx.Diag.Reportf("%s: %s: TLSLD relocation not followed by PLT32", file.File.Name, isec.Name)
			}
			if sym.IsDSO {
				ctx.Diag.Reportf("%s: %s: TLSLD relocation refers to external symbol %s", file.File.Name, isec.Name, sym.Name)
			}
			if ctx.Config.Relax {
				isec.RelTypes[i] = RTlsLdRelaxLE
				i++
			} else {
				sym.AddFlags(NeedsTlsLd)
				isec.RelTypes[i] = RTlsLd
			}

		case elf.R_X86_64_DTPOFF32, elf.R_X86_64_DTPOFF64:
			if sym.IsDSO {
				ctx.Diag.Reportf("%s: %s: DTPOFF relocation refers to external symbol %s", file.File.Name, isec.Name, sym.Name)
			}
			if ctx.Config.Relax {
				isec.RelTypes[i] = RTpoff
			} else {
				isec.RelTypes[i] = RDtpoff
			}

		case elf.R_X86_64_TPOFF32, elf.R_X86_64_TPOFF64:
			isec.RelTypes[i] = RTpoff

		case elf.R_X86_64_GOTTPOFF:
			sym.AddFlags(NeedsGotTpoff)
			isec.RelTypes[i] = RGotTpoff

		default:
			ctx.Diag.Reportf("%s: %s: unknown relocation: %d", file.File.Name, isec.Name, rel.Type)
		}
	}
}

// isRelative reports whether sym is defined by this link (not a DSO
// import) but still needs a load-time fixup under a PIE output,
// because its final address isn't known until the program is loaded.
func isRelative(sym *Symbol) bool {
	return !sym.IsDSO && !sym.IsUndef()
}

func pickFlag(isCode bool, code, data uint32) uint32 {
	if isCode {
		return code
	}
	return data
}
