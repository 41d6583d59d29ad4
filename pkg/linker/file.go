package linker

import (
	"os"

	"github.com/tinylink/x64ld/pkg/utils"
	"golang.org/x/sys/unix"
)

// File is a loaded input: an object file, an archive, or a chunk of one
// read out of an archive member. Content is backed by an mmap of the
// underlying path whenever the file came from disk directly (Parent ==
// nil); archive members slice into their parent's mapping instead of
// mapping themselves a second time.
type File struct {
	Name    string
	Content []byte
	Parent  *File

	mapping []byte // non-nil iff this File owns an mmap and must unmap it
}

// NewFile mmaps filename for the duration of the link, matching the
// "all input buffers are held memory-mapped" resource model: there is
// no per-phase reopen, and slices taken from Content remain valid for
// every later phase including the relocation applier.
func NewFile(filename string) *File {
	f, err := mapFile(filename)
	utils.MustNo(err)
	return f
}

func NewFileNoFatal(filename string) *File {
	f, err := mapFile(filename)
	if err != nil {
		return nil
	}
	return f
}

func mapFile(filename string) (*File, error) {
	fd, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	fi, err := fd.Stat()
	if err != nil {
		return nil, err
	}

	if fi.Size() == 0 {
		return &File{Name: filename}, nil
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	return &File{
		Name:    filename,
		Content: data,
		mapping: data,
	}, nil
}

// Unmap releases the mmap backing this File, if any. The linker never
// calls this mid-link, since no phase ever needs to reopen a file once
// parsed; it exists for tests and for short-lived tools that load a
// single object file.
func (f *File) Unmap() {
	if f.mapping == nil {
		return
	}
	unix.Munmap(f.mapping)
	f.mapping = nil
	f.Content = nil
}

// NewFileFromBytes wraps an in-memory buffer as a File without mmap,
// for synthetic inputs (tests, and the internal "start"/"end" symbol
// file a real linker fabricates) that were never backed by a path.
func NewFileFromBytes(name string, content []byte) *File {
	return &File{Name: name, Content: content}
}
