package linker

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Diagnostics accumulates three error classes: fatal errors abort the
// link immediately; reported errors are logged
// and the link continues so further problems can be collected, then
// aborts before writing; silent-skip conditions (a losing COMDAT
// member, for instance) are never surfaced at all and so never reach
// this type. This replaces a bare utils.Fatal call, which can only
// ever do the first of the three.
type Diagnostics struct {
	mu       sync.Mutex
	reported []error
	fatal    error
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Fatalf records an unrecoverable error and terminates the process
// immediately, mirroring utils.Fatal's abort-on-error style for
// malformed input (invalid SHT_GROUP, alignment overflow, and
// similar).
func (d *Diagnostics) Fatalf(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	os.Exit(1)
}

// Reportf records a recoverable-but-link-breaking diagnostic: semantic
// errors, resolution errors, relocation errors and the like. The link
// keeps running so later phases can surface further problems before
// Finalize aborts.
func (d *Diagnostics) Reportf(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reported = append(d.reported, fmt.Errorf(format, args...))
}

// HasErrors reports whether any Reportf call has been made.
func (d *Diagnostics) HasErrors() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reported) > 0
}

// Logf prints a purely informational line (verbose/--print-icf-sections
// style output) straight to stderr: unlike Reportf, it never joins the
// error set Finalize checks, since printing something the user asked
// to see is not itself a link failure.
func (d *Diagnostics) Logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// Finalize is the phase-boundary check: reported errors are logged and
// the link continues to collect further ones, then aborts before
// writing. Call it after each phase that can Reportf; it returns a
// joined error of everything reported so far, or nil.
func (d *Diagnostics) Finalize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reported) == 0 {
		return nil
	}
	return errors.Join(d.reported...)
}
