package sqlite

// Config holds SQLite store configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:datasets.db?_pragma=busy_timeout(5000)"
	//   "datasets.db"
	DSN string

	// BatchSize is the number of rows per multi-row INSERT.
	BatchSize int

	// SampleSize is the sample length kept by ReplaceRows.
	SampleSize int
}
