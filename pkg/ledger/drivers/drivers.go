// Package drivers selects the ledger implementation named by configuration.
package drivers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
	"github.com/angelmondragon/originhash-backend/pkg/ledger/evm"
	"github.com/angelmondragon/originhash-backend/pkg/ledger/fabric"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

// Conn is a ledger client that owns network resources.
type Conn interface {
	ledger.Client
	io.Closer
	Ping(ctx context.Context) error
}

// Open connects to the ledger configured by cfg.Driver.
func Open(ctx context.Context, cfg config.LedgerConfig, logg *logger.Logger) (Conn, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case config.LedgerDriverEVM:
		return evm.Dial(ctx, cfg, logg)
	case config.LedgerDriverFabric:
		return fabric.Connect(cfg, logg)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}
}
