package linker

import "github.com/samber/lo"

// Link runs the whole core pipeline over ctx.Objs, in the only order
// each phase's preconditions allow: resolution must settle every
// symbol's file/section/fragment binding before anything downstream
// can trust sym.GetAddr(); common symbols need a real backing section
// materialized right after that, since nothing else gives them one;
// fragment refs must be resolved after resolution (a global symbol's
// fragment only becomes final once its winning definition is chosen)
// and before both ICF (whose digest walks FragRefs) and the Scanner;
// ICF must run before the Scanner so folded-away sections never get
// scanned twice under two different surviving addresses; and
// GOT/dynamic-relocation layout can only be sized once the Scanner has
// left every request flag and every file's dynamic-relocation count in
// place.
func Link(ctx *Context) error {
	ResolveSymbols(ctx)
	MaterializeCommonSymbols(ctx)
	ClearUnusedFiles(ctx)

	ResolveFragmentRefs(ctx)
	RunICF(ctx)
	ScanRelocations(ctx)

	AllocateGotEntries(ctx)
	AssignReldynOffsets(ctx)

	return ctx.Diag.Finalize()
}

// ClearUnusedFiles drops every archive member that resolution never
// marked alive from ctx.Objs, so every later phase only ever walks
// files actually contributing to the link.
func ClearUnusedFiles(ctx *Context) {
	ctx.Objs = lo.Filter(ctx.Objs, func(f *ObjectFile, _ int) bool {
		return f.IsAlive()
	})
}
