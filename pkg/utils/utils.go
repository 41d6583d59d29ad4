// Package utils collects the small helpers shared across the linker:
// binary decoding, alignment arithmetic, and the fatal/assert style the
// rest of the module uses instead of threading errors through every
// call site that can never fail once inputs are well-formed.
package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"runtime/debug"
)

func Fatal(v any) {
	fmt.Printf("fatal: %v\n", v)
	debug.PrintStack()
	os.Exit(1)
}

func MustNo(err error) {
	if err != nil {
		Fatal(err)
	}
}

func Read[T any](content []byte, val *T) {
	reader := bytes.NewReader(content)
	err := binary.Read(reader, binary.LittleEndian, val) // x86-64 is little endian
	MustNo(err)
}

func Write[T any](dst []byte, val T) {
	buf := bytes.Buffer{}
	err := binary.Write(&buf, binary.LittleEndian, val)
	MustNo(err)
	copy(dst, buf.Bytes())
}

func Assert(res bool) {
	if !res {
		Fatal("assertion failed")
	}
}

// o => -o
// plugin => -plugin, --plugin
func AddDashes(option string) []string {
	res := []string{}

	if len(option) == 1 {
		res = append(res, "-"+option)
	} else {
		res = append(res, "-"+option, "--"+option)
	}

	return res
}

func ReadSlice[T any](content []byte, size int) []T {
	Assert(len(content)%size == 0)
	ret := make([]T, 0, len(content)/size)
	for len(content) > 0 {
		var ele T
		Read[T](content, &ele)
		ret = append(ret, ele)
		content = content[size:]
	}
	return ret
}

// AlignTo rounds val up to the next multiple of align. align must be a
// power of two; callers that derive align from sh_addralign already
// guarantee that (or pass 1).
func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) &^ (align - 1)
}

// RemoveIf compacts s in place, keeping only elements for which pred
// returns false, and returns the shortened slice without allocating a
// second one. (ClearUnusedFiles does not use it; it filters with
// lo.Filter into a new slice.)
func RemoveIf[T any](s []T, pred func(T) bool) []T {
	i := 0
	for _, v := range s {
		if pred(v) {
			continue
		}
		s[i] = v
		i++
	}
	return s[:i]
}
