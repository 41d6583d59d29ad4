package linker

import (
	"bytes"
	"crypto/sha256"
	"debug/elf"
	"encoding/binary"

	"github.com/samber/lo"
	"github.com/tinylink/x64ld/pkg/utils"
)

const digestSize = 16

type digest [digestSize]byte

func lessDigest(a, b digest) bool { return bytes.Compare(a[:], b[:]) < 0 }

type icfEntry struct {
	isec       *InputSection
	digest     digest
	isEligible bool
}

// RunICF folds every group of bit-for-bit, reference-for-reference
// identical eligible InputSections down to one leader. Eligibility
// starts from eligibleForICF's section-level admission test and is
// further narrowed under ICFConservative, which also excludes any
// section referencing an exported (default-visibility) symbol's
// section, since folding it could make two distinct function
// addresses compare equal across a shared-object boundary; ICFAll
// skips that extra exclusion.
//
// Every kept section — eligible or not — gets a slot in the working
// digest arrays, not just the eligible ones: an eligible section's
// relocation can target an ineligible one (a data section, say), and
// that target's IcfIdx has to resolve somewhere. Ineligible sections
// start from a digest packed from their own (file priority, section
// index) — globally unique, and never touched by an edge since only
// eligible sections get outgoing edges built — so they can be
// legitimate edge targets without ever becoming fold candidates
// themselves.
//
// A section's final digest comes from its own content hashed together
// with its relocation targets' digests, refined to a fixed point
// exactly like a coarsest-partition/bisimulation algorithm: two
// sections can only ever separate into different classes as rounds
// proceed, never merge back together, which is what guarantees the
// refinement terminates.
func RunICF(ctx *Context) {
	if ctx.Config.ICF == ICFOff {
		return
	}

	entries := gatherEntries(ctx)
	if len(entries) == 0 {
		return
	}

	cur := make([]digest, len(entries))
	for i, e := range entries {
		cur[i] = e.digest
	}
	edgeIndices, edges := buildEdges(entries)

	next := make([]digest, len(entries))
	numClasses := countClasses(cur)
	for {
		utils.ParallelFor(len(entries), func(i int) {
			h := sha256.New()
			h.Write(cur[i][:])
			begin, end := edgeRange(edgeIndices, edges, i)
			for _, j := range edges[begin:end] {
				h.Write(cur[j][:])
			}
			var d digest
			copy(d[:], h.Sum(nil)[:digestSize])
			next[i] = d
		})
		cur, next = next, cur
		n := countClasses(cur)
		if n == numClasses {
			break
		}
		numClasses = n
	}

	mergeSections(ctx, entries, cur)
}

// gatherEntries computes one digest per live, kept InputSection: a
// real content+relocation digest for every ICF-eligible section, or a
// digest packed from (file priority, section index) for everything
// else, which can never collide with a genuine SHA-256 output and so
// can never accidentally join a real equivalence class. Eligible
// entries sort first, ordered by digest, and every entry's position in
// that order becomes its IcfIdx — the index buildEdges' edge lists and
// the propagation loop's digest arrays are keyed by.
func gatherEntries(ctx *Context) []icfEntry {
	sections := lo.FlatMap(ctx.Objs, func(f *ObjectFile, _ int) []*InputSection {
		if !f.IsAlive() {
			return nil
		}
		return lo.Filter(f.InputSections, func(isec *InputSection, _ int) bool {
			return isec != nil
		})
	})

	entries := make([]icfEntry, len(sections))
	utils.ParallelFor(len(sections), func(i int) {
		isec := sections[i]
		if isec.icfEligible(ctx.Config.ICF) {
			entries[i] = icfEntry{isec: isec, isEligible: true, digest: computeDigest(isec)}
		} else {
			entries[i] = icfEntry{isec: isec, digest: packPriority(isec.Priority())}
		}
	})

	utils.ParallelSort(entries, func(a, b icfEntry) bool {
		if a.isEligible != b.isEligible {
			return a.isEligible
		}
		if !a.isEligible {
			return false
		}
		return lessDigest(a.digest, b.digest)
	})

	for i := range entries {
		entries[i].isec.IcfIdx = i
	}
	return entries
}

// icfEligible layers the --icf=all/conservative distinction on top of
// the unconditional section-level test: under Conservative, a section
// that relocates against another section through a default-visibility
// symbol is excluded, since that symbol's address could be observed
// and compared from outside this link; All drops that restriction.
func (isec *InputSection) icfEligible(mode ICFMode) bool {
	if !isec.eligibleForICF() {
		return false
	}
	if mode == ICFAll {
		return true
	}
	for i := range isec.Rels {
		if i < len(isec.HasFragments) && isec.HasFragments[i] {
			continue
		}
		sym := isec.ObjFile.Symbols[isec.Rels[i].Sym]
		if sym.InputSection != nil && sym.Visibility == elf.STV_DEFAULT {
			return false
		}
	}
	return true
}

// packPriority packs an ineligible section's stable ordering key
// (already exactly what InputSection.Priority returns) into a digest.
// Every real digest comes out of SHA-256, which never happens to
// reproduce 8 zero-tail bytes followed by a (priority, index) pair
// that also matches a real file's priority and a real section's
// index packed the way Priority does — collision odds so far below
// SHA-256's own are not worth computing.
func packPriority(p uint64) digest {
	var d digest
	binary.LittleEndian.PutUint64(d[:8], p)
	return d
}

// computeDigest hashes a section's bytes-on-the-wire identity: its raw
// content, its flags, and then per relocation its offset/type/addend
// followed by either the fragment it targets (tagged 1, contents
// included) or the target symbol's identity (tagged 2 if it resolves
// to a fragment of its own, 3 if it has no defining section at all, 4
// otherwise), always closed off with the symbol's value. Two sections
// whose every byte and whose every relocation's target are identical
// in this sense hash identically on round zero, and the propagation
// loop takes it from there for indirect identity through what they
// reference.
func computeDigest(isec *InputSection) digest {
	h := sha256.New()

	hashBytes := func(b []byte) {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}
	hashU64 := func(v uint64) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	hashI64 := func(v int64) { hashU64(uint64(v)) }

	hashSymbol := func(sym *Symbol) {
		switch {
		case sym.SectionFragment != nil:
			hashU64(2)
			hashBytes(sym.SectionFragment.Data)
		case sym.InputSection == nil:
			hashU64(3)
		default:
			hashU64(4)
		}
		hashU64(sym.Value)
	}

	hashBytes(isec.Content)
	hashU64(isec.Shdr.Flags)
	hashU64(uint64(len(isec.Rels)))

	fragCursor := 0
	for i := range isec.Rels {
		rel := &isec.Rels[i]
		hashU64(rel.Offset)
		hashU64(uint64(rel.Type))
		hashI64(rel.Addend)

		if i < len(isec.HasFragments) && isec.HasFragments[i] {
			ref := isec.FragRefs[fragCursor]
			fragCursor++
			hashU64(1)
			hashU64(ref.Offset)
			hashBytes(ref.Frag.Data)
		} else {
			hashSymbol(isec.ObjFile.Symbols[rel.Sym])
		}
	}

	var d digest
	copy(d[:], h.Sum(nil)[:digestSize])
	return d
}

// buildEdges turns every eligible section's relocations into a
// CSR-style adjacency list keyed by IcfIdx: an edge to the IcfIdx of
// whatever section a relocation's target symbol is itself defined in
// (eligible or not — see RunICF), skipping any relocation that targets
// a fragment or a symbol with no defining section (an absolute or
// undefined symbol can't meaningfully propagate an equivalence class).
// Ineligible entries get no outgoing edges at all: only the eligible
// ones are candidates for folding, so only they need neighbors hashed
// in.
func buildEdges(entries []icfEntry) ([]int, []int) {
	counts := make([]int, len(entries))
	utils.ParallelFor(len(entries), func(i int) {
		if !entries[i].isEligible {
			return
		}
		isec := entries[i].isec
		for j := range isec.Rels {
			if j < len(isec.HasFragments) && isec.HasFragments[j] {
				continue
			}
			sym := isec.ObjFile.Symbols[isec.Rels[j].Sym]
			if sym.SectionFragment == nil && sym.InputSection != nil {
				counts[i]++
			}
		}
	})

	edgeIndices := make([]int, len(entries))
	total := 0
	for i, n := range counts {
		edgeIndices[i] = total
		total += n
	}

	edges := make([]int, total)
	cursor := append([]int(nil), edgeIndices...)
	for i, e := range entries {
		if !e.isEligible {
			continue
		}
		isec := e.isec
		for j := range isec.Rels {
			if j < len(isec.HasFragments) && isec.HasFragments[j] {
				continue
			}
			sym := isec.ObjFile.Symbols[isec.Rels[j].Sym]
			if sym.SectionFragment == nil && sym.InputSection != nil {
				edges[cursor[i]] = sym.InputSection.IcfIdx
				cursor[i]++
			}
		}
	}
	return edgeIndices, edges
}

func edgeRange(edgeIndices, edges []int, i int) (int, int) {
	begin := edgeIndices[i]
	end := len(edges)
	if i+1 < len(edgeIndices) {
		end = edgeIndices[i+1]
	}
	return begin, end
}

// countClasses counts adjacent-index digest changes in entries' fixed
// IcfIdx order (assigned once, in gatherEntries, by digest — not
// re-sorted every round): two indices that started in the same
// initial equivalence class stay adjacent for as long as they keep
// propagating identically, so this adjacency count is a valid proxy
// for the true number of classes without ever re-sorting mid-loop.
func countClasses(ds []digest) int {
	n := 0
	for i := 0; i+1 < len(ds); i++ {
		if ds[i] != ds[i+1] {
			n++
		}
	}
	return n
}

// mergeSections commits the fixed point RunICF reached: eligible
// entries are grouped by final digest (ties broken by Priority, the
// same stable ordering key layout uses elsewhere), the first section
// in each group becomes Leader for the rest, every symbol still
// pointing at a folded section is retargeted to its leader, and every
// non-leader section is removed from its owning file so nothing
// downstream sees it again. Ineligible entries never enter this sort
// at all — their digests are only here to serve as edge targets.
func mergeSections(ctx *Context, entries []icfEntry, digests []digest) {
	type entry struct {
		isec   *InputSection
		digest digest
	}
	var eligible []entry
	for i, e := range entries {
		if e.isEligible {
			eligible = append(eligible, entry{e.isec, digests[i]})
		}
	}
	utils.ParallelSort(eligible, func(a, b entry) bool {
		if a.digest != b.digest {
			return lessDigest(a.digest, b.digest)
		}
		return a.isec.Priority() < b.isec.Priority()
	})

	savedBytes := 0
	for i := 0; i < len(eligible); {
		j := i + 1
		for j < len(eligible) && eligible[j].digest == eligible[i].digest {
			j++
		}
		leader := eligible[i].isec
		for k := i + 1; k < j; k++ {
			eligible[k].isec.Leader = leader
			if ctx.Config.PrintICFSections {
				savedBytes += len(eligible[k].isec.Content)
			}
		}
		i = j
	}

	for _, f := range ctx.Objs {
		for _, sym := range f.LocalSymbols {
			retargetToLeader(sym)
		}
	}
	ctx.interner.Range(retargetToLeader)

	for _, e := range eligible {
		if e.isec.Leader != e.isec {
			e.isec.ObjFile.InputSections[e.isec.Shndx] = nil
		}
	}

	if ctx.Config.PrintICFSections && savedBytes > 0 {
		ctx.Diag.Logf("icf: folded sections, %d bytes saved", savedBytes)
	}
}

func retargetToLeader(sym *Symbol) {
	sym.Lock()
	if sym.InputSection != nil && sym.InputSection.Leader != sym.InputSection {
		sym.InputSection = sym.InputSection.Leader
	}
	sym.Unlock()
}
