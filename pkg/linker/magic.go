package linker

import (
	"bytes"

	"github.com/tinylink/x64ld/pkg/utils"
)

func MustHaveMagic(content []byte) {
	if !bytes.HasPrefix(content, []byte("\177ELF")) {
		utils.Fatal("invalid ELF magic number")
	}
}

func CheckMagic(content []byte) bool {
	return bytes.HasPrefix(content, []byte("\177ELF"))
}
