package ordset

// Entry is the record stored in the ordered index. Visible is false while the
// entry is a pending write of a staged, not yet committed transaction; Deleted
// marks a tombstone. Entries are ordered by (identifier, Generation).
type Entry[E, K any] struct {
	Element    E
	Generation int64
	Deleted    bool
	Visible    bool

	// key caches the identifier projected out of Element at insert time, so
	// tombstones (which carry no element) still order correctly.
	key K
}

// Key returns the identifier this entry is ordered by.
func (e Entry[E, K]) Key() K {
	return e.key
}

// Watch captures the state of a key at the moment it was watched: the
// generation of its visible entry and whether that entry was a tombstone.
// A missing key is encoded with the watching transaction's own generation
// and Deleted set (see Transaction.missingWatch).
type Watch struct {
	Generation int64
	Deleted    bool
}

// watchRecord pairs a watched key with its snapshot. The transaction keeps
// these in a small ordered set keyed by K; duplicates collapse, last write wins.
type watchRecord[K any] struct {
	key   K
	watch Watch
}

// FoundFunc receives the entry a lookup resolved to. It runs synchronously;
// with the partitioned facade a partition lock is held, so it must not
// re-enter the store. A non-nil return aborts the operation with code Unknown.
type FoundFunc[E, K any] func(Entry[E, K]) error

// MissingFunc is invoked when a lookup resolves to no visible entry.
type MissingFunc func() error
