package linker

import (
	"sync"

	"github.com/tinylink/x64ld/pkg/utils"
)

type fragKey struct {
	data  string
	align uint32
}

// MergedSection is the shared fragment table: one
// instance per mergeable output section name, holding every distinct
// (bytes, alignment) fragment contributed by any input file. Insert is
// called concurrently from every ObjectFile's parse goroutine, so it
// is guarded by its own mutex rather than relying on the Context-level
// lock that only protects MergedSection creation.
type MergedSection struct {
	OutputWriter

	mu  sync.Mutex
	Map map[fragKey]*SectionFragment
}

func NewMergedSection(name string, flags uint64, typ uint32) *MergedSection {
	m := &MergedSection{
		OutputWriter: *NewOutputWriter(),
		Map:          make(map[fragKey]*SectionFragment),
	}
	m.Name = name
	m.Shdr.Flags = flags
	m.Shdr.Type = typ
	return m
}

// Insert returns the unique SectionFragment for (data, align), keyed
// by bytes + alignment, creating it on first sight.
func (m *MergedSection) Insert(data []byte, align uint32) *SectionFragment {
	key := fragKey{data: string(data), align: align}

	m.mu.Lock()
	defer m.mu.Unlock()

	if frag, ok := m.Map[key]; ok {
		return frag
	}
	frag := NewSectionFragment(data, align)
	frag.SetOutputSection(m)
	m.Map[key] = frag
	return frag
}

// AssignFragmentsOffsets lays every live fragment out within this
// MergedSection: sorted by (alignment, length, bytes) for a
// deterministic, reproducible layout independent of map iteration
// order, then packed with each fragment aligned
// to its own requirement.
func (m *MergedSection) AssignFragmentsOffsets() {
	type entry struct {
		key  fragKey
		frag *SectionFragment
	}
	fragments := make([]entry, 0, len(m.Map))
	for k, v := range m.Map {
		fragments = append(fragments, entry{k, v})
	}

	utils.ParallelSort(fragments, func(a, b entry) bool {
		if a.frag.Align != b.frag.Align {
			return a.frag.Align < b.frag.Align
		}
		if len(a.key.data) != len(b.key.data) {
			return len(a.key.data) < len(b.key.data)
		}
		return a.key.data < b.key.data
	})

	offset := uint64(0)
	maxAlign := uint64(1)
	for _, e := range fragments {
		offset = utils.AlignTo(offset, uint64(e.frag.Align))
		e.frag.Offset = uint32(offset)
		offset += uint64(len(e.key.data))
		if uint64(e.frag.Align) > maxAlign {
			maxAlign = uint64(e.frag.Align)
		}
	}

	m.Shdr.Size = utils.AlignTo(offset, maxAlign)
	m.Shdr.AddrAlign = maxAlign
}

func (m *MergedSection) CopyBuf(ctx *Context) {
	start := ctx.Buf[m.Shdr.Offset:]
	for k, frag := range m.Map {
		copy(start[frag.Offset:], k.data)
	}
}
