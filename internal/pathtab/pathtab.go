// Package pathtab interns file path strings into small integer handles so
// per-file state can live in slices indexed by handle instead of maps keyed
// by string.
package pathtab

// Handle identifies an interned path. The zero Handle is never issued.
type Handle uint32

// Table maps paths to handles and back. Released handles are reused.
// A Table is not safe for concurrent use; owners guard it with their own lock.
type Table struct {
	byPath map[string]Handle
	paths  []string // index = handle; paths[0] unused
	free   []Handle
}

// New creates an empty Table.
func New() *Table {
	return &Table{
		byPath: make(map[string]Handle),
		paths:  []string{""},
	}
}

// Intern returns the handle for path, allocating one if needed.
func (t *Table) Intern(path string) Handle {
	if h, ok := t.byPath[path]; ok {
		return h
	}

	var h Handle
	if n := len(t.free); n > 0 {
		h = t.free[n-1]
		t.free = t.free[:n-1]
		t.paths[h] = path
	} else {
		h = Handle(len(t.paths))
		t.paths = append(t.paths, path)
	}
	t.byPath[path] = h
	return h
}

// Lookup returns the handle for path without allocating.
func (t *Table) Lookup(path string) (Handle, bool) {
	h, ok := t.byPath[path]
	return h, ok
}

// Path returns the path for h, or "" if h is not live.
func (t *Table) Path(h Handle) string {
	if h == 0 || int(h) >= len(t.paths) {
		return ""
	}
	return t.paths[h]
}

// Release frees h for reuse. Releasing an unknown handle is a no-op.
func (t *Table) Release(h Handle) {
	path := t.Path(h)
	if path == "" {
		return
	}
	if cur, ok := t.byPath[path]; !ok || cur != h {
		return
	}
	delete(t.byPath, path)
	t.paths[h] = ""
	t.free = append(t.free, h)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	return len(t.byPath)
}

// Cap returns the number of slots, live or free, including the unused zero slot.
// Slices indexed by Handle must be at least this long.
func (t *Table) Cap() int {
	return len(t.paths)
}

// Reset drops every handle.
func (t *Table) Reset() {
	t.byPath = make(map[string]Handle)
	t.paths = []string{""}
	t.free = nil
}
