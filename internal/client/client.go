package client

import (
	"fmt"

	"github.com/poslab/catsync/internal/config"
	"github.com/poslab/catsync/internal/engine"
	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/store"
	"github.com/poslab/catsync/internal/transport"
	"github.com/poslab/catsync/internal/triggers"
)

// Client is the composition root: it owns the one engine instance per
// process and wires the trigger adapters around it.
type Client struct {
	Engine   *engine.Engine
	Store    store.Store
	Push     *triggers.PushHandler
	Listener *triggers.Listener
	Status   *events.ChannelSink

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
}

// New builds a fully wired client from config.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	tp := transport.New(cfg, logger)

	catalogStore, err := store.NewSQLiteStore(cfg.Storage.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	statusSink := events.NewChannelSink(64)
	sink := events.MultiSink{events.NewLoggerSink(logger), statusSink}

	eng := engine.New(tp, catalogStore, sink, engine.Config{
		PageLimit:         cfg.Sync.PageLimit,
		FullSyncThreshold: cfg.Sync.FullSyncThreshold,
		RunTimeout:        cfg.Sync.RunTimeout,
	}, logger)

	push, err := triggers.NewPushHandler(eng, cfg.Push.SignatureKey, cfg.Sync.BackgroundBudget, logger)
	if err != nil {
		return nil, err
	}

	listener := triggers.NewListener(tp, eng, cfg.Stream.ReconnectDelay, logger)

	return &Client{
		Engine:    eng,
		Store:     catalogStore,
		Push:      push,
		Listener:  listener,
		Status:    statusSink,
		config:    cfg,
		logger:    logger,
		transport: tp,
	}, nil
}

// Close releases the engine, transport and store.
func (c *Client) Close() error {
	c.Engine.Close()
	c.Status.Close()
	if err := c.transport.Close(); err != nil {
		c.logger.WithError(err).Warn("Closing transport")
	}
	return c.Store.Close()
}
