package linker

import "debug/elf"

// MaterializeCommonSymbols gives every surviving tentative (SHN_COMMON)
// definition a real section to live in: a common symbol has no backing
// bytes at parse time, only a size, so each one that won resolution
// gets a synthetic zero-initialized section (alignment fixed at 1,
// matching the original) and is rebound onto it with a zero offset.
// The synthetic section attaches to the shared .bss OutputSection
// singleton so GetAddr resolves once layout assigns that section an
// address.
func MaterializeCommonSymbols(ctx *Context) {
	for _, file := range ctx.Objs {
		if !file.IsAlive() || file.IsDSO {
			continue
		}
		for n, idx := range file.CommonSymIndices {
			sym := file.Symbols[idx]

			sym.Lock()
			owned := sym.File == file && sym.IsCommonDef
			sym.Unlock()
			if !owned {
				continue
			}

			esym := &file.ElfSyms[idx]

			shdr := &Shdr{
				Type:      uint32(elf.SHT_NOBITS),
				Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
				Size:      esym.Size,
				AddrAlign: 1,
			}
			syntheticIdx := file.TotalSecs + uint32(n)
			isec := NewInputSection(file, shdr, ".bss", nil, syntheticIdx)
			isec.OutputSection = ctx.GetBssSection()
			file.InputSections = append(file.InputSections, isec)

			sym.Lock()
			sym.SetInputSection(isec)
			sym.Value = 0
			sym.Unlock()
		}
	}
}
