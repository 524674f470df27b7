package cmd

import (
	"fmt"
	"path/filepath"

	"testkit/internal/store"
)

// openStore builds the persisted store selected by the global flags. The
// returned closer is a no-op for the file backend.
func openStore() (store.Store, func() error, error) {
	switch flagStoreBackend {
	case "file":
		return store.NewFileStore(filepath.Join(flagDataDir, "records")), func() error { return nil }, nil
	case "badger":
		bs, err := store.NewBadgerStore(store.BadgerConfig{
			Path: filepath.Join(flagDataDir, "badger"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening badger store: %w", err)
		}
		return bs, bs.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (want file or badger)", flagStoreBackend)
	}
}
