package index

// EntryIndex defines the interface for entry indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type EntryIndex interface {
	UpsertEntry(e EntryRow) error
	DeleteEntry(path string) error
	GetChecksum(path string) (string, error)
	GetEntry(path string) (*EntryRow, error)
	ListEntries(collection string, limit, offset int) ([]EntryRow, int, error)
	CollectionCounts() (map[string]int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies EntryIndex at compile time.
var _ EntryIndex = (*DB)(nil)
