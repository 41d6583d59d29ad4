package linker

import (
	"bytes"
	"debug/elf"

	"github.com/tinylink/x64ld/pkg/utils"
)

type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeObject
	FileTypeDSO
	FileTypeArchive
)

func GetFileTypeFromContent(content []byte) FileType {
	if len(content) == 0 {
		return FileTypeEmpty
	}

	if CheckMagic(content) {
		var elfType uint16
		utils.Read[uint16](content[16:], &elfType)
		switch elf.Type(elfType) {
		case elf.ET_REL:
			return FileTypeObject
		case elf.ET_DYN:
			return FileTypeDSO
		}
	}

	if bytes.HasPrefix(content, []byte("!<arch>\n")) {
		return FileTypeArchive
	}

	return FileTypeUnknown
}

func CheckFileCompatibility(ctx *Context, file *File) {
	t := GetMachineTypeFromContent(file.Content)
	if t != MachineTypeNone && ctx.Config.Machine != t {
		utils.Fatal("object file " + file.Name + " is not compatible with the target machine type")
	}
}
