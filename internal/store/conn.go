package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Config describes how to reach the document store. Bound from
// cfg.Config by cmd/mount.go.
type Config struct {
	URI            string
	Database       string
	InodesColl     string
	ExtentsColl    string
	BlocksColl     string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InodesColl == "" {
		c.InodesColl = "inodes"
	}
	if c.ExtentsColl == "" {
		c.ExtentsColl = "extents"
	}
	if c.BlocksColl == "" {
		c.BlocksColl = "blocks"
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 100
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Conn is the process-wide database connection handle, the Go analogue
// of the original's get_conn(): a single *mongo.Client already pools
// connections per the driver's own internal goroutine-safe pool, so
// every goroutine dispatched by the FUSE server shares one Conn without
// additional locking.
type Conn struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database

	once sync.Once
}

// Dial connects to the document store and provisions the indexes the
// schema requires (dirents, (inode,start), (inode,end)). It is safe to
// call once at startup; it is not a pool factory itself, the driver is.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging document store: %w", err)
	}

	c := &Conn{cfg: cfg, client: client, db: client.Database(cfg.Database)}
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) ensureIndexes(ctx context.Context) error {
	inodes := c.db.Collection(c.cfg.InodesColl)
	if _, err := inodes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "dirents", Value: 1}},
	}); err != nil {
		return fmt.Errorf("creating dirents index: %w", err)
	}

	extents := c.db.Collection(c.cfg.ExtentsColl)
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "inode", Value: 1}, {Key: "start", Value: 1}}},
		{Keys: bson.D{{Key: "inode", Value: 1}, {Key: "end", Value: 1}}},
	}
	if _, err := extents.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("creating extent indexes: %w", err)
	}
	return nil
}

// Collection returns the named collection, wrapped in the narrow
// store.Collection interface the core programs against.
func (c *Conn) Collection(name string) Collection {
	return &mongoCollection{c: c.db.Collection(name)}
}

// Inodes, Extents, Blocks return the three collections the schema names,
// resolved from the configured names.
func (c *Conn) Inodes() Collection  { return c.Collection(c.cfg.InodesColl) }
func (c *Conn) Extents() Collection { return c.Collection(c.cfg.ExtentsColl) }
func (c *Conn) Blocks() Collection  { return c.Collection(c.cfg.BlocksColl) }

// Close disconnects the underlying client. Safe to call once during
// graceful shutdown.
func (c *Conn) Close(ctx context.Context) error {
	var err error
	c.once.Do(func() { err = c.client.Disconnect(ctx) })
	return err
}
