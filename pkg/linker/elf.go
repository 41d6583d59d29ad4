package linker

import (
	"bytes"
	"debug/elf"
	"strconv"
	"strings"
	"unsafe"

	"github.com/tinylink/x64ld/pkg/utils"
)

// SHF_EXCLUDE is a standard ELF section flag not defined by debug/elf.
const SHF_EXCLUDE = 0x80000000

const EhdrSize = int(unsafe.Sizeof(Ehdr{}))
const ShdrSize = int(unsafe.Sizeof(Shdr{}))
const SymSize = int(unsafe.Sizeof(Sym{}))
const PhdrSize = int(unsafe.Sizeof(Phdr{}))
const AhdrSize = int(unsafe.Sizeof(ArHdr{}))
const RelaSize = int(unsafe.Sizeof(Rela{}))

type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

func (s *Shdr) Alloc() bool     { return s.Flags&uint64(elf.SHF_ALLOC) != 0 }
func (s *Shdr) Exclude() bool   { return s.Flags&uint64(SHF_EXCLUDE) != 0 }
func (s *Shdr) Write() bool     { return s.Flags&uint64(elf.SHF_WRITE) != 0 }
func (s *Shdr) ExecInstr() bool { return s.Flags&uint64(elf.SHF_EXECINSTR) != 0 }
func (s *Shdr) Tls() bool       { return s.Flags&uint64(elf.SHF_TLS) != 0 }
func (s *Shdr) Merge() bool     { return s.Flags&uint64(elf.SHF_MERGE) != 0 }
func (s *Shdr) Strings() bool   { return s.Flags&uint64(elf.SHF_STRINGS) != 0 }

type Phdr struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

func (s *Sym) GetShndx(table []uint32, idx uint32) uint32 {
	if elf.SectionIndex(s.Shndx) != elf.SHN_XINDEX {
		return uint32(s.Shndx)
	}
	return table[idx]
}

func (s *Sym) IsAbs() bool {
	return s.Shndx == uint16(elf.SHN_ABS)
}

func (s *Sym) IsUndef() bool {
	return s.Shndx == uint16(elf.SHN_UNDEF)
}

func (s *Sym) IsCommon() bool {
	return s.Shndx == uint16(elf.SHN_COMMON)
}

func (s *Sym) Bind() elf.SymBind {
	return elf.SymBind(s.Info >> 4)
}

func (s *Sym) Type() elf.SymType {
	return elf.SymType(s.Info & 0xf)
}

func (s *Sym) IsWeak() bool {
	return s.Bind() == elf.STB_WEAK
}

func (s *Sym) Visibility() elf.SymVis {
	return elf.SymVis(s.Other & 0x3)
}

// Rela is an Elf64_Rela entry: every x86-64 relocation carries an
// explicit addend, so SHT_REL is never produced by an x86-64 toolchain
// and this module only ever decodes SHT_RELA.
type Rela struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

type ArHdr struct {
	Name [16]byte
	Date [12]byte
	Uid  [6]byte
	Gid  [6]byte
	Mode [8]byte
	Size [10]byte
	Fmag [2]byte
}

func (a *ArHdr) HasPrefix(s string) bool {
	return strings.HasPrefix(string(a.Name[:]), s)
}

func (a *ArHdr) IsStrTab() bool {
	return a.HasPrefix("// ")
}

func (a *ArHdr) IsSymtab() bool {
	return a.HasPrefix("/ ") || a.HasPrefix("/SYM64/ ")
}

func (a *ArHdr) GetSize() int {
	trimmed := strings.TrimSpace(string(a.Size[:]))
	size, err := strconv.Atoi(trimmed)
	utils.MustNo(err)
	return size
}

func (a *ArHdr) ReadName(strTab []byte) string {
	// Long Name
	// "/123    " => the number is the start index in strTab
	if a.HasPrefix("/") {
		trimmed := strings.TrimSpace(string(a.Name[1:]))
		start, err := strconv.Atoi(trimmed)
		utils.MustNo(err)
		end := start + bytes.Index(strTab[start:], []byte("/\n"))
		return string(strTab[start:end])
	}
	// Short Name
	end := bytes.Index(a.Name[:], []byte("/"))
	utils.Assert(end != -1)
	return string(a.Name[:end])
}

func ElfGetName(strTab []byte, offset uint32) string {
	length := uint32(bytes.Index(strTab[offset:], []byte{0}))
	return string(strTab[offset : offset+length])
}

// IsValidCIdentifier reports whether name could be a C identifier,
// which excludes a section from ICF folding: such
// section names may be referenced externally via
// __start_<name>/__stop_<name> and must never be folded away.
func IsValidCIdentifier(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i, r := range name {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 {
			if !isAlpha {
				return false
			}
			continue
		}
		if !isAlpha && !isDigit {
			return false
		}
	}
	return true
}
