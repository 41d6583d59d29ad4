package linker

// iOutputWriter is the common interface every synthetic or merged
// output chunk satisfies so the (out-of-scope) layout phase can walk
// them uniformly to size the file and every phase after it can find
// a chunk's assigned section header by its final index.
type iOutputWriter interface {
	GetShdr() *Shdr
	GetShndx() int64
	SetShndx(idx int64)
	CopyBuf(ctx *Context)
}

type OutputWriter struct {
	Name  string
	Shdr  Shdr
	Shndx int64
}

func NewOutputWriter() *OutputWriter {
	return &OutputWriter{
		Shdr: Shdr{
			AddrAlign: 1,
		},
		Shndx: -1,
	}
}

func (o *OutputWriter) GetShdr() *Shdr { return &o.Shdr }

func (o *OutputWriter) GetShndx() int64    { return o.Shndx }
func (o *OutputWriter) SetShndx(idx int64) { o.Shndx = idx }

func (o *OutputWriter) CopyBuf(ctx *Context) {}
