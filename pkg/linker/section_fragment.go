package linker

import "math"

// SectionFragment is a deduplicated piece of a mergeable section
//: uniquely owned by the shared fragment table, identified
// by its literal bytes and alignment, carrying its data, alignment,
// and — once the out-of-scope layout phase runs — an assigned address.
type SectionFragment struct {
	OutputSection *MergedSection
	Data          []byte
	Align         uint32
	Offset        uint32
	IsAlive       bool
}

func NewSectionFragment(data []byte, align uint32) *SectionFragment {
	return &SectionFragment{
		Data:    data,
		Align:   align,
		Offset:  math.MaxUint32,
		IsAlive: true,
	}
}

func (s *SectionFragment) SetOutputSection(m *MergedSection) {
	s.OutputSection = m
}

func (s *SectionFragment) GetAddr() uint64 {
	return s.OutputSection.Shdr.Addr + uint64(s.Offset)
}
