package linker

// AllocateGotEntries walks every symbol touched by the link — every
// interned global plus every live file's private locals — exactly once and
// hands each request flag the Relocation Scanner left set to the
// matching .got region, then sizes the section. Must run after
// ScanRelocations and before any CopyBuf.
func AllocateGotEntries(ctx *Context) {
	var all []*Symbol
	seen := make(map[*Symbol]bool)

	add := func(sym *Symbol) {
		if sym == nil || seen[sym] {
			return
		}
		seen[sym] = true
		all = append(all, sym)
	}

	ctx.interner.Range(add)
	for _, file := range ctx.Objs {
		if !file.IsAlive() {
			continue
		}
		for _, sym := range file.LocalSymbols {
			add(sym)
		}
	}

	anyTlsLd := false
	for _, sym := range all {
		flags := sym.Flags()
		if flags&NeedsGot != 0 {
			ctx.Got.AddGotSym(sym)
		}
		if flags&NeedsTlsLd != 0 {
			anyTlsLd = true
		}
	}
	for _, sym := range all {
		if sym.Flags()&NeedsGotTpoff != 0 {
			ctx.Got.AddGotTpoffSym(sym)
		}
	}
	for _, sym := range all {
		if sym.Flags()&NeedsTlsGd != 0 {
			ctx.Got.AddTlsGdSym(sym)
		}
	}
	if anyTlsLd {
		ctx.Got.RequestTlsLd()
	}

	ctx.Got.Finalize()
}
