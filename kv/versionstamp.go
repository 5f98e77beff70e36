package kv

// Versionstamp is the opaque, monotonically increasing token a backend
// assigns to every write. Two versionstamps compare equal iff they were
// assigned by the same commit; no other ordering is exposed to callers
// beyond "later commits produce greater-sorting tokens".
type Versionstamp string

// None is the expected versionstamp for a Check that asserts a key does
// not currently exist.
const None Versionstamp = ""

// Exists reports whether v denotes a real (non-None) versionstamp.
func (v Versionstamp) Exists() bool { return v != None }
