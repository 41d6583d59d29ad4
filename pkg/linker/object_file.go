package linker

import (
	"debug/elf"
	"sync/atomic"

	"github.com/tinylink/x64ld/pkg/utils"
)

// PendingComdat is the (group, member sections) record
// recorded at parse time and resolved by the COMDAT
// dedup pass.
type PendingComdat struct {
	Group         *ComdatGroup
	MemberSecIdx  []uint32
	LeaderSecIdx  uint32 // the section carrying the group signature symbol
}

// ObjectFile is one parsed input. InputSections entries are
// nullable: a nil entry denotes a section suppressed by COMDAT loss or
// ICF folding.
type ObjectFile struct {
	File         *File
	Ehdr         Ehdr
	Shdrs        []Shdr
	ElfSyms      []Sym
	SymTabShdr   *Shdr
	FirstGlobal  uint32
	ShStrTab     []byte
	SymStrTab    []byte
	SymtabShndx  []uint32

	Priority    int64
	IsDSO       bool
	IsInArchive bool
	isAlive     atomic.Bool

	InputSections []*InputSection // nullable
	Symbols       []*Symbol       // parallel to ElfSyms; locals own their Symbol, globals are interned
	LocalSymbols  []*Symbol       // Symbols[0:FirstGlobal], kept as a convenience alias

	// Mergeable maps an original section index to the record describing
	// how that section was split into shared fragments; set
	// only for indices whose InputSections entry was suppressed (set
	// nil) by splitMergeableSections.
	Mergeable map[uint32]*MergeableSection

	PendingComdat    []PendingComdat
	CommonSymIndices []uint32

	NumDynrel    uint32
	ReldynOffset uint32

	TotalSyms uint32
	TotalSecs uint32
}

// NewObjectFile decodes an ELF64 header and section header table from
// file and assigns it priority, the link-invocation-order
// tie-break key resolution falls back to on rank ties. It does not parse symbols
// or sections yet; call Parse once all files have been constructed so
// every ObjectFile has a stable Priority before any symbol resolution
// runs.
func NewObjectFile(file *File, priority int64, isInArchive bool) *ObjectFile {
	f := &ObjectFile{
		File:        file,
		Priority:    priority,
		IsInArchive: isInArchive,
	}
	if !isInArchive {
		f.SetAlive(true)
	}

	if len(file.Content) < EhdrSize {
		utils.Fatal("file is smaller than the ELF header size")
	}
	MustHaveMagic(file.Content)

	utils.Read[Ehdr](file.Content, &f.Ehdr)
	f.IsDSO = elf.Type(f.Ehdr.Type) == elf.ET_DYN

	secHdrContent := file.Content[f.Ehdr.ShOff:]
	var shdr Shdr
	utils.Read[Shdr](secHdrContent, &shdr)
	f.Shdrs = append(f.Shdrs, shdr)

	numSecs := uint32(f.Ehdr.ShNum)
	if numSecs == 0 {
		numSecs = uint32(f.Shdrs[0].Size)
	}
	f.TotalSecs = numSecs

	for i := uint32(0); i < numSecs-1; i++ {
		secHdrContent = secHdrContent[ShdrSize:]
		shdr = Shdr{}
		utils.Read[Shdr](secHdrContent, &shdr)
		f.Shdrs = append(f.Shdrs, shdr)
	}

	shStrndx := uint32(f.Ehdr.ShStrndx)
	if shStrndx == uint32(elf.SHN_XINDEX) {
		shStrndx = f.Shdrs[0].Link
	}
	f.ShStrTab = f.GetBytesFromIdx(shStrndx)

	return f
}

func (f *ObjectFile) GetEhdr() *Ehdr { return &f.Ehdr }

func (f *ObjectFile) IsAlive() bool     { return f.isAlive.Load() }
func (f *ObjectFile) SetAlive(v bool)   { f.isAlive.Store(v) }

// MarkAlive does an atomic test-and-set on is_alive, returning
// immediately if already live. Returns true iff this call was the one
// that flipped it.
func (f *ObjectFile) MarkAlive() bool {
	return f.isAlive.CompareAndSwap(false, true)
}

func (f *ObjectFile) SectionName(idx uint32) string {
	return ElfGetName(f.ShStrTab, f.Shdrs[idx].Name)
}

func (f *ObjectFile) GetBytesFromShdr(s *Shdr) []byte {
	end := s.Offset + s.Size
	if end > uint64(len(f.File.Content)) {
		utils.Fatal("section bytes exceed file length in " + f.File.Name)
	}
	return f.File.Content[s.Offset:end]
}

func (f *ObjectFile) GetBytesFromIdx(idx uint32) []byte {
	if idx >= uint32(len(f.Shdrs)) {
		utils.Fatal("section index exceeds section header table length in " + f.File.Name)
	}
	return f.GetBytesFromShdr(&f.Shdrs[idx])
}

func (f *ObjectFile) FindSectionHdr(secType elf.SectionType) *Shdr {
	for i := range f.Shdrs {
		if elf.SectionType(f.Shdrs[i].Type) == secType {
			return &f.Shdrs[i]
		}
	}
	return nil
}

func (f *ObjectFile) fillInElfSyms(shdr *Shdr) {
	bs := f.GetBytesFromShdr(shdr)
	nums := len(bs) / SymSize
	f.ElfSyms = make([]Sym, nums)
	for i := 0; i < nums; i++ {
		var s Sym
		utils.Read[Sym](bs, &s)
		f.ElfSyms[i] = s
		bs = bs[SymSize:]
	}
}

func (f *ObjectFile) parseSymTab() {
	f.SymTabShdr = f.FindSectionHdr(elf.SHT_SYMTAB)
	if f.SymTabShdr != nil {
		f.FirstGlobal = f.SymTabShdr.Info
		f.fillInElfSyms(f.SymTabShdr)
		f.SymStrTab = f.GetBytesFromIdx(f.SymTabShdr.Link)
	}
}

func (f *ObjectFile) parseSymtabShndx(ctx *Context) {
	shdr := f.FindSectionHdr(elf.SHT_SYMTAB_SHNDX)
	if shdr != nil {
		// SHT_SYMTAB_SHNDX (>64k section extended indices) is not supported.
		ctx.Diag.Fatalf("%s: SHT_SYMTAB_SHNDX is not supported", f.File.Name)
	}
}

// parseInputSections fills InputSections: sections with
// SHF_EXCLUDE set and SHF_ALLOC unset are skipped entirely (left nil);
// SHT_GROUP, SHT_SYMTAB_SHNDX, SHT_SYMTAB, SHT_STRTAB, SHT_REL,
// SHT_RELA, and SHT_NULL are consumed as metadata rather than becoming
// an InputSection; everything else becomes one. A shared-object input
// allocates the slice but leaves every entry nil: only its symbols
// participate in the link, never its section contents.
func (f *ObjectFile) parseInputSections(ctx *Context) {
	f.InputSections = make([]*InputSection, f.TotalSecs)
	if f.IsDSO {
		return
	}

	for i := uint32(0); i < f.TotalSecs; i++ {
		shdr := &f.Shdrs[i]
		if shdr.Exclude() && !shdr.Alloc() {
			continue
		}

		switch elf.SectionType(shdr.Type) {
		case elf.SHT_GROUP:
			f.parseGroup(ctx, i)
			continue
		case elf.SHT_SYMTAB_SHNDX:
			continue // rejected above; unreachable once Fatalf exits
		case elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL, elf.SHT_RELA, elf.SHT_NULL:
			continue
		}

		name := f.SectionName(i)
		content := f.GetBytesFromShdr(shdr)
		f.InputSections[i] = NewInputSection(f, shdr, name, content, i)
	}

	f.attachRelocations(ctx)
	f.splitMergeableSections(ctx)
}

// parseGroup decodes one SHT_GROUP section: the first word
// is the group flags, the section's sh_info names the signature
// symbol, and the remaining words are member section indices. Only
// GRP_COMDAT groups are accepted.
func (f *ObjectFile) parseGroup(ctx *Context, idx uint32) {
	shdr := &f.Shdrs[idx]
	content := f.GetBytesFromShdr(shdr)
	if len(content) < 4 || len(content)%4 != 0 {
		ctx.Diag.Fatalf("%s: malformed SHT_GROUP section", f.File.Name)
		return
	}

	words := utils.ReadSlice[uint32](content, 4)
	flags := words[0]
	if flags&uint32(GRP_COMDAT) == 0 {
		ctx.Diag.Fatalf("%s: unsupported SHT_GROUP format", f.File.Name)
		return
	}

	sigSymIdx := shdr.Info
	// Symbols aren't parsed yet at this point in Parse's pipeline, so
	// the signature name is read directly out of the not-yet-decoded
	// symbol table using the same name-lookup path parseSymTab will
	// use for everyone else.
	symtab := f.FindSectionHdr(elf.SHT_SYMTAB)
	var signature string
	if symtab != nil {
		symBytes := f.GetBytesFromShdr(symtab)
		var sym Sym
		utils.Read[Sym](symBytes[sigSymIdx*uint32(SymSize):], &sym)
		strtab := f.GetBytesFromIdx(symtab.Link)
		if sym.Name != 0 {
			signature = ElfGetName(strtab, sym.Name)
		} else {
			signature = f.SectionName(idx)
		}
	} else {
		signature = f.SectionName(idx)
	}

	members := words[1:]
	group := ctx.GetComdatGroup(signature)
	f.PendingComdat = append(f.PendingComdat, PendingComdat{
		Group:        group,
		MemberSecIdx: members,
		LeaderSecIdx: members[0],
	})
}

// attachRelocations is the second pass over the section header table:
// every SHT_RELA
// section is attached to its target section (sh_info) by filling that
// target's Rels array.
func (f *ObjectFile) attachRelocations(ctx *Context) {
	for i := uint32(0); i < f.TotalSecs; i++ {
		shdr := &f.Shdrs[i]
		if elf.SectionType(shdr.Type) != elf.SHT_RELA {
			continue
		}
		target := shdr.Info
		if target >= uint32(len(f.InputSections)) || f.InputSections[target] == nil {
			continue
		}
		content := f.GetBytesFromShdr(shdr)
		if len(content)%RelaSize != 0 {
			ctx.Diag.Fatalf("%s: SHT_RELA size is not a multiple of Elf64_Rela", f.File.Name)
			continue
		}
		f.InputSections[target].Rels = utils.ReadSlice[Rela](content, RelaSize)
	}
}

// ParseSymbols fills Symbols/LocalSymbols (the data feeding
// into §4.2's interner): local symbols get their own private *Symbol;
// global symbols are interned so every file referencing the same name
// shares one identity.
func (f *ObjectFile) parseSymbols(ctx *Context) {
	f.LocalSymbols = make([]*Symbol, 0, f.FirstGlobal)
	f.Symbols = make([]*Symbol, 0, len(f.ElfSyms))

	for i, esym := range f.ElfSyms {
		idx := uint32(i)
		if idx == 0 {
			first := NewSymbol("")
			f.LocalSymbols = append(f.LocalSymbols, first)
			f.Symbols = append(f.Symbols, first)
			continue
		}

		if idx < f.FirstGlobal {
			name := ElfGetName(f.SymStrTab, esym.Name)
			sym := NewSymbol(name)
			f.bindLocalSymbol(sym, &esym, idx)
			f.LocalSymbols = append(f.LocalSymbols, sym)
			f.Symbols = append(f.Symbols, sym)
			continue
		}

		name := ElfGetName(f.SymStrTab, esym.Name)
		gSym := ctx.Intern(name)
		f.Symbols = append(f.Symbols, gSym)
	}

	f.TotalSyms = uint32(len(f.ElfSyms))

	for i := f.FirstGlobal; i < f.TotalSyms; i++ {
		if f.ElfSyms[i].IsCommon() {
			f.CommonSymIndices = append(f.CommonSymIndices, i)
		}
	}
}

func (f *ObjectFile) bindLocalSymbol(sym *Symbol, esym *Sym, idx uint32) {
	sym.File = f
	sym.Value = esym.Val
	sym.SymIdx = idx
	sym.SymType = esym.Type()
	sym.Visibility = esym.Visibility()
	if esym.IsAbs() {
		return
	}
	if esym.IsCommon() {
		return
	}
	shndx := esym.GetShndx(f.SymtabShndx, idx)
	if int(shndx) >= len(f.InputSections) {
		return
	}
	if isec := f.InputSections[shndx]; isec != nil {
		sym.SetInputSection(isec)
		return
	}
	if ms := f.Mergeable[shndx]; ms != nil {
		frag, off := ms.GetFragment(esym.Val)
		if frag != nil {
			sym.SetSectionFragment(frag)
			sym.Value = off
		}
	}
}

// Parse runs the full per-file decode pipeline: symbol table, then
// sections (which also resolves SHT_GROUP/SHT_RELA), then symbols
// (which needs InputSections to exist already, since resolving a
// local symbol's section requires looking one up).
func (f *ObjectFile) Parse(ctx *Context) {
	f.parseSymTab()
	f.parseSymtabShndx(ctx)
	f.parseInputSections(ctx)
	f.parseSymbols(ctx)
}
