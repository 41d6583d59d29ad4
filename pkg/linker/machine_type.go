package linker

import (
	"debug/elf"

	"github.com/tinylink/x64ld/pkg/utils"
)

type MachineType uint8

const (
	MachineTypeNone MachineType = iota
	MachineTypeX86_64
)

func (m MachineType) String() string {
	switch m {
	case MachineTypeNone:
		return "none"
	case MachineTypeX86_64:
		return "x86_64"
	}

	utils.Fatal("invalid machine type")
	return ""
}

// GetMachineTypeFromContent inspects an ET_REL or ET_DYN buffer's
// e_machine/EI_CLASS fields without fully parsing it, the way the
// driver picks an emulation from the first compatible input when none
// was given explicitly on the command line.
func GetMachineTypeFromContent(content []byte) MachineType {
	fileType := GetFileTypeFromContent(content)
	switch fileType {
	case FileTypeObject, FileTypeDSO:
		var machineType uint16
		utils.Read[uint16](content[18:], &machineType)
		switch elf.Machine(machineType) {
		case elf.EM_X86_64:
			class := content[4]
			switch elf.Class(class) {
			case elf.ELFCLASS64:
				return MachineTypeX86_64
			}
		}
	}

	return MachineTypeNone
}
