package vectorutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/vector"
	"github.com/engramlabs/engram/pkg/vector/inmemory"
	"github.com/engramlabs/engram/pkg/vector/qdrant"
	"github.com/engramlabs/engram/pkg/vector/sqlitevec"
)

// NewVectorDriverOpts selects and configures a vector driver by provider
// name: "memory", "sqlite", or "qdrant".
type NewVectorDriverOpts struct {
	ProviderType string
	DBPath       string
	Host         string
	Port         int
	APIKey       string
	UseTLS       bool
	Collection   string
	Dimensions   uint
	Logger       *zap.Logger
}

// NewVectorDriver constructs the configured vector driver.
func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	switch o.ProviderType {
	case "memory":
		return inmemory.NewDriver(), nil
	case "sqlite":
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.DBPath,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case "qdrant":
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:           o.Host,
			Port:           o.Port,
			APIKey:         o.APIKey,
			UseTLS:         o.UseTLS,
			CollectionName: o.Collection,
			Dimensions:     o.Dimensions,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
