package linker

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNonAllocShdr() *Shdr {
	return &Shdr{Type: uint32(elf.SHT_PROGBITS)}
}

func newOutputSectionAt(addr uint64) *OutputSection {
	o := NewOutputSection(".text", uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC), 0)
	o.Shdr.Addr = addr
	return o
}

func TestApplyRelocAlloc_Abs64WritesSymbolAddressPlusAddend(t *testing.T) {
	ctx := NewContext()

	file := &ObjectFile{Priority: 0}
	targetSec := NewInputSection(file, newEligibleShdr(), ".text.target", []byte("TGTX"), 0)
	targetSec.OutputSection = newOutputSectionAt(0x2000)
	targetSec.Offset = 0x10

	target := NewSymbol("target")
	target.InputSection = targetSec
	target.Value = 4
	file.Symbols = []*Symbol{target}

	isec := NewInputSection(file, newEligibleShdr(), ".text.caller", make([]byte, 8), 1)
	isec.OutputSection = newOutputSectionAt(0x1000)
	isec.Offset = 0x30
	isec.Rels = []Rela{{Offset: 0, Type: uint32(elf.R_X86_64_64), Sym: 0, Addend: 3}}
	isec.RelTypes = []RelType{RAbs}

	dst := make([]byte, 8)
	isec.applyRelocAlloc(ctx, dst)

	want := targetSec.GetAddr() + target.Value + 3
	assert.Equal(t, want, binary.LittleEndian.Uint64(dst))
}

func TestApplyRelocAlloc_PCRelative(t *testing.T) {
	ctx := NewContext()

	file := &ObjectFile{Priority: 0}
	targetSec := NewInputSection(file, newEligibleShdr(), ".text.target", []byte("TGTX"), 0)
	targetSec.OutputSection = newOutputSectionAt(0x2000)
	targetSec.Offset = 0

	target := NewSymbol("target")
	target.InputSection = targetSec
	file.Symbols = []*Symbol{target}

	isec := NewInputSection(file, newEligibleShdr(), ".text.caller", make([]byte, 4), 1)
	isec.OutputSection = newOutputSectionAt(0x1000)
	isec.Offset = 0x100
	isec.Rels = []Rela{{Offset: 0, Type: uint32(elf.R_X86_64_PC32), Sym: 0, Addend: -4}}
	isec.RelTypes = []RelType{RPC}

	dst := make([]byte, 4)
	isec.applyRelocAlloc(ctx, dst)

	P := isec.GetAddr()
	want := int64(target.GetAddr()) - 4 - int64(P)
	assert.Equal(t, uint32(want), binary.LittleEndian.Uint32(dst))
}

func TestApplyRelocAlloc_Abs32OverflowIsReported(t *testing.T) {
	ctx := NewContext()

	file := &ObjectFile{Priority: 0, File: &File{Name: "a.o"}}
	targetSec := NewInputSection(file, newEligibleShdr(), ".text.target", []byte("TGTX"), 0)
	targetSec.OutputSection = newOutputSectionAt(1 << 40) // far out of R_X86_64_32's unsigned range
	targetSec.Offset = 0

	target := NewSymbol("target")
	target.InputSection = targetSec
	file.Symbols = []*Symbol{target}

	isec := NewInputSection(file, newEligibleShdr(), ".text.caller", make([]byte, 4), 1)
	isec.OutputSection = newOutputSectionAt(0x1000)
	isec.Rels = []Rela{{Offset: 0, Type: uint32(elf.R_X86_64_32), Sym: 0, Addend: 0}}
	isec.RelTypes = []RelType{RAbs}

	dst := make([]byte, 4)
	isec.applyRelocAlloc(ctx, dst)

	require.True(t, ctx.Diag.HasErrors(), "a symbol address outside R_X86_64_32's unsigned 32-bit range must be reported")
}

func TestApplyRelocAlloc_Abs32InRangeIsNotReported(t *testing.T) {
	ctx := NewContext()

	file := &ObjectFile{Priority: 0}
	targetSec := NewInputSection(file, newEligibleShdr(), ".text.target", []byte("TGTX"), 0)
	targetSec.OutputSection = newOutputSectionAt(0x2000)

	target := NewSymbol("target")
	target.InputSection = targetSec
	file.Symbols = []*Symbol{target}

	isec := NewInputSection(file, newEligibleShdr(), ".text.caller", make([]byte, 4), 1)
	isec.OutputSection = newOutputSectionAt(0x1000)
	isec.Rels = []Rela{{Offset: 0, Type: uint32(elf.R_X86_64_32), Sym: 0, Addend: 0}}
	isec.RelTypes = []RelType{RAbs}

	dst := make([]byte, 4)
	isec.applyRelocAlloc(ctx, dst)

	assert.False(t, ctx.Diag.HasErrors())
	assert.Equal(t, uint32(0x2000), binary.LittleEndian.Uint32(dst))
}

func TestApplyTlsGdRelaxLE_RewritesCallSequence(t *testing.T) {
	dst := make([]byte, 32)
	rel := &Rela{Offset: 8}

	applyTlsGdRelaxLE(dst, rel, 0x1234)

	// The last 4 bytes of the template are the lea's displacement operand,
	// overwritten by the value write; only the leading instruction bytes
	// stay as the fixed template.
	wantTmplHead := []byte{0x64, 0x48, 0x8b, 0x04, 0x25, 0, 0, 0, 0, 0x48, 0x8d, 0x80}
	assert.Equal(t, wantTmplHead, dst[4:16])
	assert.Equal(t, uint32(0x1234), binary.LittleEndian.Uint32(dst[16:20]))
}

func TestApplyTlsLdRelaxLE_RewritesCallSequence(t *testing.T) {
	dst := make([]byte, 16)
	rel := &Rela{Offset: 4}

	applyTlsLdRelaxLE(dst, rel)

	wantTmpl := []byte{0x66, 0x66, 0x66, 0x64, 0x48, 0x8b, 0x04, 0x25, 0, 0, 0, 0}
	assert.Equal(t, wantTmpl, dst[1:13])
}

func TestApplyRelocNonAlloc_DtpoffSubtractsTlsBegin(t *testing.T) {
	ctx := NewContext()
	ctx.TLSBegin = 0x100

	file := &ObjectFile{Priority: 0}
	targetSec := NewInputSection(file, newEligibleShdr(), ".tdata.x", []byte("XXXX"), 0)
	targetSec.OutputSection = newOutputSectionAt(0x100)

	target := NewSymbol("x")
	target.File = file
	target.InputSection = targetSec
	target.Value = 0x20
	file.Symbols = []*Symbol{target}

	debugSec := NewInputSection(file, newNonAllocShdr(), ".debug_info", make([]byte, 8), 1)
	debugSec.Rels = []Rela{{Offset: 0, Type: uint32(elf.R_X86_64_DTPOFF64), Sym: 0, Addend: 0}}

	dst := make([]byte, 8)
	debugSec.applyRelocNonAlloc(ctx, dst)

	want := target.GetAddr() - ctx.TLSBegin
	assert.Equal(t, want, binary.LittleEndian.Uint64(dst))
}

func TestApplyRelocNonAlloc_UndefinedSymbolIsReported(t *testing.T) {
	ctx := NewContext()

	file := &ObjectFile{Priority: 0, File: &File{Name: "a.o"}}
	undef := NewSymbol("missing")
	file.Symbols = []*Symbol{undef}

	debugSec := NewInputSection(file, newNonAllocShdr(), ".debug_info", make([]byte, 8), 0)
	debugSec.Rels = []Rela{{Offset: 0, Type: uint32(elf.R_X86_64_64), Sym: 0, Addend: 0}}

	dst := make([]byte, 8)
	debugSec.applyRelocNonAlloc(ctx, dst)

	require.True(t, ctx.Diag.HasErrors(), "a relocation against an undefined symbol in a non-alloc section must be reported")
}
