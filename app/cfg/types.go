package cfg

import "time"

type Cfg struct {
	// Storage configuration
	DBPath   string
	CacheDir string
	BlobDir  string

	// Application configuration
	BlocksDir     string
	Port          string
	BaseUrl       string
	BatchSchedule string
	BatchSize     int
	APIAccessKey  string
	SourceLease   bool

	// Refresh policy
	RefreshInterval time.Duration
	FetchTimeout    time.Duration

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
