package settings

import "sync"

type Arguments struct {
	// MongoDB connection string for both the admin and data databases
	MongoURI string

	// AdminDBName holds the schema registry ("schemas" collection)
	AdminDBName string

	// DataDBName holds the content collections themselves
	DataDBName string

	// Directory holding schema seed files (*.yaml), loaded at startup
	DataDir string

	// Watch the seed directory and invalidate cached schemas on change
	WatchSchemas bool

	// the host name or IP address to listen on
	Host string

	// the port number to listen on
	Port int

	// Paging defaults for the read path
	DefaultPageSize int
	MaxPageSize     int

	// Keyword searches longer than this are rejected, not truncated
	MaxKeywordLength int

	// Strongly verbose logging
	Verbose bool

	Debug bool
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the process-wide settings instance.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			AdminDBName:      "adminDB",
			DataDBName:       "dataDB",
			DefaultPageSize:  24,
			MaxPageSize:      500,
			MaxKeywordLength: 100,
		}
	})
	return instance
}
