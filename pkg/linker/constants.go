package linker

// x86-64 PLT stub layout: a 16-byte PLT0 header (pushes the module ID,
// jumps through GOT[1]) followed by one 16-byte stub per PLT entry
// (jmp *got_entry(%rip); push index; jmp plt0), matching the layout
// every x86-64 ELF linker emits.
const (
	pltHeaderSize uint64 = 16
	pltEntrySize  uint64 = 16
)

// GRP_COMDAT is the standard ELF SHT_GROUP flag not defined by debug/elf.
const GRP_COMDAT = 0x1
