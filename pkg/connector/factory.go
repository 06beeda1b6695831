// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/config"
)

// ConnectorFactory opens the databases a run needs
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateSourceConnector opens and validates the database serving a SQL source
func (f *ConnectorFactory) CreateSourceConnector(ctx context.Context) (Connector, error) {
	var (
		conn Connector
		err  error
	)
	switch f.cfg.SourceKind {
	case config.SourcePostgres:
		f.logger.Info("Creating PostgreSQL source connector")
		conn, err = NewPostgresConnector(ctx, f.cfg.Postgres, f.logger)
	case config.SourceSnowflake:
		f.logger.Info("Creating Snowflake source connector")
		conn, err = NewSnowflakeConnector(ctx, f.cfg.Snowflake, f.logger)
	default:
		return nil, fmt.Errorf("source %q is not a database", f.cfg.SourceKind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s connector: %w", f.cfg.SourceKind, err)
	}

	if err := conn.Validate(ctx, f.cfg.SQLSourceSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s source validation failed: %w", f.cfg.SourceKind, err)
	}
	return conn, nil
}

// CreateLedgerConnector opens the PostgreSQL database holding the run ledger
func (f *ConnectorFactory) CreateLedgerConnector(ctx context.Context) (*PostgresConnector, error) {
	f.logger.Info("Creating PostgreSQL ledger connector")

	conn, err := NewPostgresConnector(ctx, f.cfg.Postgres, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
	}
	return conn, nil
}
