package linker

import "debug/elf"

// RelType is the abstract relocation action kind the Scanner assigns
// to each relocation; the Applier dispatches on it
// instead of re-deriving intent from the raw ELF r_type at apply time.
type RelType uint8

const (
	RNone RelType = iota
	RAbs
	RAbsDyn
	RDyn
	RPC
	RGot
	RGotPC
	RGotPCRel
	RTlsGd
	RTlsLd
	RDtpoff
	RTpoff
	RGotTpoff
	RTlsGdRelaxLE
	RTlsLdRelaxLE
)

// FragmentRef records that a relocation targets a piece of a
// mergeable section rather than a whole InputSection: Offset is the
// relocation's original in-section byte offset re-expressed relative
// to the start of Frag once the fragment table resolved it.
type FragmentRef struct {
	Frag   *SectionFragment
	Offset uint64
}

// InputSection is one kept section of one ObjectFile.
type InputSection struct {
	ObjFile *ObjectFile
	Shdr    *Shdr
	Name    string
	Content []byte
	Shndx   uint32

	OutputSection *OutputSection

	Rels []Rela

	// HasFragments[i] is true iff Rels[i] targets a mergeable section;
	// in that case the corresponding entry is consumed from
	// FragRefs in lockstep as Rels is traversed.
	HasFragments []bool
	FragRefs     []FragmentRef

	// RelTypes[i] is filled in by the Scanner for every alloc section;
	// nil for non-SHF_ALLOC sections, since only relocations against
	// loaded memory need an apply-time action.
	RelTypes []RelType

	// IcfIdx is this section's index into the ICF engine's working
	// arrays; -1 until ICF assigns it.
	IcfIdx int

	// Leader is this section after ICF: itself if it survived, or the
	// surviving representative it was folded into otherwise.
	Leader *InputSection

	// ReldynOffset is this section's starting offset within its
	// owning file's slice of the output dynamic-relocation array,
	// precomputed during scanning.
	ReldynOffset uint32

	// Offset is this section's byte offset within its OutputSection,
	// assigned by the (out-of-scope) layout phase; the Applier uses it
	// to find where to copy Content.
	Offset uint64
	IsAlive bool
}

func NewInputSection(obj *ObjectFile, shdr *Shdr, name string, content []byte, shndx uint32) *InputSection {
	isec := &InputSection{
		ObjFile: obj,
		Shdr:    shdr,
		Name:    name,
		Content: content,
		Shndx:   shndx,
		IcfIdx:  -1,
		IsAlive: true,
	}
	isec.Leader = isec
	return isec
}

func (isec *InputSection) Alloc() bool {
	return isec.Shdr != nil && isec.Shdr.Alloc()
}

func (isec *InputSection) ExecInstr() bool {
	return isec.Shdr != nil && isec.Shdr.ExecInstr()
}

func (isec *InputSection) NoBits() bool {
	return isec.Shdr != nil && elf.SectionType(isec.Shdr.Type) == elf.SHT_NOBITS
}

// GetAddr returns this section's final address after layout, through
// its surviving leader: every live section has leader == self until
// ICF folds it, so this also works before ICF has run (Leader starts
// self-referential).
func (isec *InputSection) GetAddr() uint64 {
	l := isec.Leader
	if l == nil {
		l = isec
	}
	if l.OutputSection == nil {
		return 0
	}
	return l.OutputSection.Shdr.Addr + l.Offset
}

// Priority packs (file.priority, section index) into the stable
// ordering key used to lay out every live InputSection deterministically:
// priority = (file.priority << 32) | section_idx.
func (isec *InputSection) Priority() uint64 {
	return uint64(isec.ObjFile.Priority)<<32 | uint64(isec.Shndx)
}

// eligibleForICF implements the ICF eligibility test:
// SHF_ALLOC && SHF_EXECINSTR && !SHF_WRITE && !SHT_NOBITS, excluding
// .init/.fini/SHT_INIT_ARRAY/SHT_FINI_ARRAY and any section whose name
// is a valid C identifier.
func (isec *InputSection) eligibleForICF() bool {
	if isec.Shdr == nil {
		return false
	}
	if !isec.Shdr.Alloc() || !isec.Shdr.ExecInstr() || isec.Shdr.Write() {
		return false
	}
	if isec.NoBits() {
		return false
	}
	switch elf.SectionType(isec.Shdr.Type) {
	case elf.SHT_INIT_ARRAY, elf.SHT_FINI_ARRAY:
		return false
	}
	if isec.Name == ".init" || isec.Name == ".fini" {
		return false
	}
	if IsValidCIdentifier(isec.Name) {
		return false
	}
	return true
}
