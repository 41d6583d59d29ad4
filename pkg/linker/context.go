package linker

import (
	"debug/elf"
	"sync"
)

// Config holds the command-line-derived settings honored by the core
// pipeline.
type Config struct {
	Output           string
	Machine          MachineType
	LibraryPaths     []string
	Pie              bool
	Relax            bool
	ICF              ICFMode
	PrintICFSections bool
	Threads          int
}

// ICFMode selects how aggressively the ICF engine folds sections.
// ICFConservative excludes any section with a relocation against a
// default-visibility symbol defined in a section; ICFAll additionally
// folds those sections, a riskier but more thorough mode recovered
// from original_source/icf.cc (see SPEC_FULL.md).
type ICFMode uint8

const (
	ICFOff ICFMode = iota
	ICFConservative
	ICFAll
)

// Context is the explicit link-context value threaded through every
// phase in place of process-wide globals: every piece of shared
// mutable state (the symbol interner, the fragment table, the COMDAT
// map, and the diagnostics sink) is a field here, threaded through
// every phase instead of living at package scope. Its lifetime bounds
// every non-owning reference from Symbol back to ObjectFile and from
// InputSection back to ObjectFile.
type Context struct {
	Config Config
	Diag   *Diagnostics

	interner *Interner

	comdatMu sync.Mutex
	comdat   map[string]*ComdatGroup

	mergedMu sync.Mutex
	merged   map[string]*MergedSection // keyed by output section name

	bssMu sync.Mutex
	bss   *OutputSection

	Objs []*ObjectFile

	OutputSections []*OutputSection
	OutputWriters  []iOutputWriter

	Got     *OutputGotSectionWriter
	RelaDyn *OutputRelaDynWriter

	TLSSegmentAddr uint64
	TLSBegin       uint64
	TLSEnd         uint64

	Buf []byte
}

func NewContext() *Context {
	return &Context{
		Config: Config{
			Output:  "a.out",
			Machine: MachineTypeNone,
			Threads: 0,
		},
		Diag:     NewDiagnostics(),
		interner: NewInterner(),
		comdat:   make(map[string]*ComdatGroup),
		merged:   make(map[string]*MergedSection),
		Got:      NewOutputGotSectionWriter(),
		RelaDyn:  NewOutputRelaDynWriter(),
	}
}

// Intern hands out the process-wide stable Symbol identity for name;
// see Interner for the concurrency contract.
func (ctx *Context) Intern(name string) *Symbol {
	return ctx.interner.Intern(name)
}

// GetComdatGroup returns the (lazily created) ComdatGroup for
// signature, a global record with a stable address for the lifetime of
// the link.
func (ctx *Context) GetComdatGroup(signature string) *ComdatGroup {
	ctx.comdatMu.Lock()
	defer ctx.comdatMu.Unlock()
	g, ok := ctx.comdat[signature]
	if !ok {
		g = &ComdatGroup{Signature: signature}
		ctx.comdat[signature] = g
	}
	return g
}

// GetMergedSection returns the shared MergedSection (fragment table)
// for a given mergeable-output-section name, creating it on first use.
// Multiple input sections with the same name/flags/type coalesce into
// one MergedSection, matching OutputSection::get_instance's
// get-or-create contract.
func (ctx *Context) GetMergedSection(name string, flags uint64, typ uint32) *MergedSection {
	ctx.mergedMu.Lock()
	defer ctx.mergedMu.Unlock()
	m, ok := ctx.merged[name]
	if !ok {
		m = NewMergedSection(name, flags, typ)
		ctx.merged[name] = m
	}
	return m
}

// GetBssSection returns the shared singleton .bss OutputSection that
// every materialized common symbol attaches to, creating it on first
// use; matches the same get_instance get-or-create contract as
// GetMergedSection, only unkeyed since a link has exactly one .bss.
func (ctx *Context) GetBssSection() *OutputSection {
	ctx.bssMu.Lock()
	defer ctx.bssMu.Unlock()
	if ctx.bss == nil {
		ctx.bss = NewOutputSection(".bss", uint32(elf.SHT_NOBITS), uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 0)
	}
	return ctx.bss
}

func (ctx *Context) MergedSections() []*MergedSection {
	out := make([]*MergedSection, 0, len(ctx.merged))
	for _, m := range ctx.merged {
		out = append(out, m)
	}
	return out
}
