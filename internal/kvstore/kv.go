package kvstore

// KV is the in-memory state that the log is replayed into.
type KV interface {
	// Get returns the value for the given key and whether it was found.
	Get(key string) (string, bool)
	// Set sets the value for the given key.
	Set(key, value string)
	// Delete deletes the given key. Deleting an absent key is a no-op.
	Delete(key string)
}
