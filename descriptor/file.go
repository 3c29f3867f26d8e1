package descriptor

import "os"

// FilePassthrough is a regular-file descriptor whose reads/writes are
// handed directly to the host kernel unchanged: the one Descriptor
// variant that is not emulated, per spec.md §3 ("regular-file
// passthrough") and §4.8's dispatch rule for syscalls that touch only
// process-local resources.
type FilePassthrough struct {
	base
	f *os.File
}

// NewFilePassthrough wraps an already-open host file.
func NewFilePassthrough(h Handle, f *os.File) *FilePassthrough {
	fp := &FilePassthrough{base: newBase(h), f: f}
	fp.setStatus(Readable | Writable)
	return fp
}

func (f *FilePassthrough) Read(buf []byte) (int, error)  { return f.f.Read(buf) }
func (f *FilePassthrough) Write(buf []byte) (int, error) { return f.f.Write(buf) }

func (f *FilePassthrough) Close() error {
	f.setStatus(Closed)
	return f.f.Close()
}
