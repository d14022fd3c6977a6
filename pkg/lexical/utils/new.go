package lexicalutils

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/lexical"
	"github.com/engramlabs/engram/pkg/lexical/inmemory"
	"github.com/engramlabs/engram/pkg/lexical/sqlitefts"
)

// NewLexicalDriverOpts selects and configures a lexical driver by provider
// name: "memory" or "sqlite".
type NewLexicalDriverOpts struct {
	ProviderType string
	DBPath       string
	Logger       *zap.Logger
}

// NewLexicalDriver constructs the configured lexical driver.
func NewLexicalDriver(o *NewLexicalDriverOpts) (lexical.Driver, error) {
	switch o.ProviderType {
	case "memory":
		return inmemory.NewDriver(), nil
	case "sqlite":
		return sqlitefts.NewDriver(sqlitefts.Config{
			DBPath: o.DBPath,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported lexical index provider: %s", o.ProviderType)
	}
}
