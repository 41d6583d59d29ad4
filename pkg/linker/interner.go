package linker

import "sync"

// Interner is the process-wide concurrent name->Symbol map: Intern(name)
// always returns the same *Symbol for equal names, from any goroutine,
// and the mapping's lifetime equals the link's. Backed by sync.Map
// rather than a mutex-guarded map so concurrent Intern calls from
// every file's parse goroutine stay linearizable without serializing
// through one lock for the whole table.
type Interner struct {
	table sync.Map // string -> *Symbol
}

func NewInterner() *Interner {
	return &Interner{}
}

func (in *Interner) Intern(name string) *Symbol {
	if v, ok := in.table.Load(name); ok {
		return v.(*Symbol)
	}
	sym := NewSymbol(name)
	actual, _ := in.table.LoadOrStore(name, sym)
	return actual.(*Symbol)
}

// Delete removes name from the interner. No phase of Link calls it;
// symbols owned only by files that never became live stay interned.
func (in *Interner) Delete(name string) {
	in.table.Delete(name)
}

// Len reports how many distinct names have been interned so far.
func (in *Interner) Len() int {
	n := 0
	in.table.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Range visits every interned symbol exactly once. The callback must
// not call Intern or Delete on the same interner.
func (in *Interner) Range(fn func(sym *Symbol)) {
	in.table.Range(func(_, v any) bool {
		fn(v.(*Symbol))
		return true
	})
}
