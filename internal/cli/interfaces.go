package cli

import "github.com/clean-dependency-project/ultiserve/internal/storage"

// openAccessStore opens the access log database. Tests replace it.
var openAccessStore = func(path string) (storage.Store, error) {
	return storage.InitDB(storage.Config{
		DatabasePath: path,
		LogLevel:     "silent", // Database logs are verbose, suppress them
	})
}
