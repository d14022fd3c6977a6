package storeutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/store"
	"github.com/engramlabs/engram/pkg/store/inmemory"
	"github.com/engramlabs/engram/pkg/store/postgres"
	"github.com/engramlabs/engram/pkg/store/sqlite"
)

// NewStoreOpts selects and configures the document and lock drivers by
// provider name: "memory", "sqlite", or "postgres".
type NewStoreOpts struct {
	ProviderType string
	DBPath       string
	PostgresDSN  string
	Logger       *zap.Logger
}

// NewDrivers constructs the configured document store and lock driver as a
// pair so both facets always land on the same backend.
func NewDrivers(ctx context.Context, o *NewStoreOpts) (store.Driver, store.LockDriver, error) {
	switch o.ProviderType {
	case "memory":
		return inmemory.NewDriver(), inmemory.NewLockDriver(), nil
	case "sqlite":
		docs, err := sqlite.NewDriver(sqlite.Config{DBPath: o.DBPath}, o.Logger)
		if err != nil {
			return nil, nil, err
		}
		locks, err := sqlite.NewLockDriver(sqlite.Config{DBPath: o.DBPath})
		if err != nil {
			docs.Close()
			return nil, nil, err
		}
		return docs, locks, nil
	case "postgres":
		docs, err := postgres.NewDriver(ctx, o.PostgresDSN, o.Logger)
		if err != nil {
			return nil, nil, err
		}
		locks, err := postgres.NewLockDriver(ctx, o.PostgresDSN)
		if err != nil {
			docs.Close()
			return nil, nil, err
		}
		return docs, locks, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage provider: %s", o.ProviderType)
	}
}
