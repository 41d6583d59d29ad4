package linker

// symRank orders one raw symbol-table entry by how strong a claim it
// makes to own its name: an undefined weak reference is the weakest
// possible claim, an ordinary undefined reference only a little
// stronger (it demands a definition but offers none), a tentative
// (common) definition stronger still, a weak definition above that,
// and an ordinary strong definition the strongest of all. Resolution
// always prefers a higher rank regardless of file order; equal ranks
// fall back to file priority.
func symRank(esym *Sym) int {
	switch {
	case esym.IsUndef() && esym.IsWeak():
		return 0
	case esym.IsUndef():
		return 1
	case esym.IsCommon():
		return 2
	case esym.IsWeak():
		return 3
	default:
		return 4
	}
}

func curRank(sym *Symbol) int {
	switch {
	case sym.File == nil && sym.IsUndefWeak:
		return 0
	case sym.File == nil:
		return 1
	case sym.IsCommonDef:
		return 2
	case sym.IsWeak:
		return 3
	default:
		return 4
	}
}

// maybeOverrideSymbol installs (file, esym) as sym's current
// definition if the challenger is new, strictly stronger, a
// same-strength tie broken by lower (earlier) file priority, or the
// incumbent is only a placeholder. A placeholder always loses
// unconditionally: it records that some not-yet-proven-live archive
// member offers this name, not a settled claim, so even a
// same-priority, same-rank re-registration of the very file that left
// the placeholder behind must still be allowed to confirm itself as
// the real definition once ResolveSymbols re-registers it. Runs under
// sym's own lock so two files racing to define the same name never
// interleave a partial update.
func maybeOverrideSymbol(sym *Symbol, file *ObjectFile, esym *Sym, idx uint32, placeholder bool) {
	sym.Lock()
	defer sym.Unlock()

	newRank := symRank(esym)
	win := sym.IsPlaceholder || newRank > curRank(sym) || (newRank == curRank(sym) && file.Priority < sym.priority)
	if !win {
		return
	}

	sym.File = file
	sym.SymIdx = idx
	sym.SymType = esym.Type()
	sym.Visibility = esym.Visibility()
	sym.IsWeak = esym.IsWeak()
	sym.IsUndefWeak = esym.IsUndef() && esym.IsWeak()
	sym.IsCommonDef = esym.IsCommon() && !esym.IsUndef()
	sym.IsPlaceholder = placeholder
	sym.IsDSO = false
	sym.priority = file.Priority

	if esym.IsCommon() || esym.IsUndef() {
		sym.SetInputSection(nil)
		sym.Value = esym.Val
		return
	}

	shndx := esym.GetShndx(file.SymtabShndx, idx)
	if int(shndx) < len(file.InputSections) {
		if isec := file.InputSections[shndx]; isec != nil {
			sym.SetInputSection(isec)
			sym.Value = esym.Val
			return
		}
		if ms := file.Mergeable[shndx]; ms != nil {
			if frag, off := ms.GetFragment(esym.Val); frag != nil {
				sym.SetSectionFragment(frag)
				sym.Value = off
				return
			}
		}
	}
	sym.Value = esym.Val
}

// ResolveSymbols runs the whole resolution phase: every file's global
// definitions are offered to the interned Symbol table, not-yet-live
// archive members offering theirs as placeholders; archive liveness is
// then propagated to a fixed point from whatever is already alive;
// definitions are re-registered so a member promoted to alive during
// that closure overrides any placeholder a weaker file left behind;
// COMDAT groups are settled; and finally any weakly referenced symbol
// still undefined is bound as undefined-weak with value zero.
func ResolveSymbols(ctx *Context) {
	registerDefinitions(ctx)
	markLiveArchiveMembers(ctx)
	registerDefinitions(ctx)
	resolveComdatGroups(ctx)
	bindRemainingUndefWeak(ctx)
}

func registerDefinitions(ctx *Context) {
	for _, file := range ctx.Objs {
		if file.IsDSO {
			registerDSODefinitions(file)
			continue
		}
		placeholder := file.IsInArchive && !file.IsAlive()
		for i := file.FirstGlobal; i < file.TotalSyms; i++ {
			esym := &file.ElfSyms[i]
			if esym.IsUndef() && !esym.IsWeak() {
				continue
			}
			maybeOverrideSymbol(file.Symbols[i], file, esym, i, placeholder)
		}
	}
}

// registerDSODefinitions installs a shared-object export only when the
// name has no claim at all yet: a DSO's own copy of a symbol is always
// the weakest possible definition, present only to be displaced the
// moment any regular object or archive member defines the same name.
func registerDSODefinitions(file *ObjectFile) {
	for i := file.FirstGlobal; i < file.TotalSyms; i++ {
		esym := &file.ElfSyms[i]
		if esym.IsUndef() {
			continue
		}
		sym := file.Symbols[i]
		sym.Lock()
		if sym.File == nil {
			sym.File = file
			sym.SymIdx = i
			sym.SymType = esym.Type()
			sym.Visibility = esym.Visibility()
			sym.IsDSO = true
			sym.Value = esym.Val
			sym.priority = file.Priority
		}
		sym.Unlock()
	}
}

// markLiveArchiveMembers walks outward from every file already alive,
// following each undefined strong reference to whatever file currently
// owns that name; if that owner is an archive member not yet pulled
// in, the atomic test-and-set on its liveness flag ensures exactly one
// caller wins the race to mark it alive and enqueue it for the same
// treatment.
func markLiveArchiveMembers(ctx *Context) {
	queue := make([]*ObjectFile, 0, len(ctx.Objs))
	for _, f := range ctx.Objs {
		if f.IsAlive() {
			queue = append(queue, f)
		}
	}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		for i := f.FirstGlobal; i < f.TotalSyms; i++ {
			esym := &f.ElfSyms[i]
			if !esym.IsUndef() || esym.IsWeak() {
				continue
			}
			sym := f.Symbols[i]
			sym.Lock()
			owner := sym.File
			sym.Unlock()
			if owner == nil || !owner.IsInArchive {
				continue
			}
			if owner.MarkAlive() {
				queue = append(queue, owner)
			}
		}
	}
}

// bindRemainingUndefWeak binds every symbol still undefined once
// resolution has settled: an undefined weak reference with no
// definition anywhere resolves to address zero instead of producing
// an error, the standard weak-symbol contract every ELF linker honors.
// A symbol whose sole claimant is a placeholder left by an archive
// member that never got pulled alive counts as unclaimed too, not as
// a dangling reference to a dead file.
func bindRemainingUndefWeak(ctx *Context) {
	for _, file := range ctx.Objs {
		for i := file.FirstGlobal; i < file.TotalSyms; i++ {
			esym := &file.ElfSyms[i]
			if !esym.IsUndef() || !esym.IsWeak() {
				continue
			}
			sym := file.Symbols[i]
			sym.Lock()
			if sym.File == nil || (sym.IsPlaceholder && !sym.File.IsAlive()) {
				sym.IsUndefWeak = true
				sym.Value = 0
			}
			sym.Unlock()
		}
	}
}

// resolveComdatGroups settles every COMDAT group signature recorded
// during parsing: each group's member file list races to claim it
// (lowest file priority wins ties), then every losing member's
// sections are nulled out of its own InputSections so they never reach
// layout or output.
func resolveComdatGroups(ctx *Context) {
	for _, f := range ctx.Objs {
		for _, pc := range f.PendingComdat {
			pc.Group.Claim(f, pc.LeaderSecIdx)
		}
	}
	for _, f := range ctx.Objs {
		for _, pc := range f.PendingComdat {
			if pc.Group.File() == f {
				continue
			}
			for _, idx := range pc.MemberSecIdx {
				if int(idx) < len(f.InputSections) {
					f.InputSections[idx] = nil
				}
			}
		}
	}
}
