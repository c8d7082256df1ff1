package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/devserver"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/store"
	"github.com/vovakirdan/wirechat-client/internal/store/sqlite"
)

// DevServer wires the development server over a SQLite message log.
type DevServer struct {
	server *devserver.Server
	store  store.Store
	log    *zerolog.Logger
}

// NewDevServer opens the database at dbPath and builds the server.
func NewDevServer(cfg config.DevServerConfig, dbPath string, logger *zerolog.Logger) (*DevServer, error) {
	st, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", dbPath).Msg("database initialized")

	return &DevServer{
		server: devserver.New(cfg, st, log.Component(logger, "devserver")),
		store:  st,
		log:    logger,
	}, nil
}

// Server exposes the wrapped server.
func (a *DevServer) Server() *devserver.Server {
	return a.server
}

// Run serves until ctx is cancelled, then closes the database.
func (a *DevServer) Run(ctx context.Context) error {
	err := a.server.Run(ctx)
	a.cleanup()
	return err
}

// cleanup closes database and other resources.
func (a *DevServer) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
