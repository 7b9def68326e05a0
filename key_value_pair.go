package cset

// KeyValuePair is a tuple. The inmemory facade stores these as its elements,
// projecting Key out as the ordering identifier.
type KeyValuePair[TK any, TV any] struct {
	Key   TK
	Value TV
}
