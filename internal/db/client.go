package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Config holds database connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
}

// Client records research runs, section outcomes and citations. Writes go
// through an async queue so persistence never blocks or fails a workflow.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger

	writeQueue chan writeRequest
	stopCh     chan struct{}
	stopOnce   sync.Once
	workerWg   sync.WaitGroup
}

type writeRequest struct {
	query string
	args  []interface{}
}

// NewClient opens the connection pool and starts the write workers.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	idle := cfg.IdleConnections
	if idle <= 0 {
		idle = 2
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(30 * time.Minute)

	c := newClientWithDB(db, logger)
	return c, nil
}

// newClientWithDB wires a client around an existing handle (tests inject a
// sqlmock-backed one).
func newClientWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	c := &Client{
		db:         db,
		logger:     logger,
		writeQueue: make(chan writeRequest, 256),
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < 2; i++ {
		c.workerWg.Add(1)
		go c.writeWorker()
	}
	return c
}

func (c *Client) writeWorker() {
	defer c.workerWg.Done()
	for {
		select {
		case req := <-c.writeQueue:
			c.execWrite(req)
		case <-c.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case req := <-c.writeQueue:
					c.execWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) execWrite(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.db.ExecContext(ctx, req.query, req.args...); err != nil {
		c.logger.Warn("Async persistence write failed", zap.Error(err))
	}
}

// enqueue submits a write without blocking; under sustained backlog the
// write is dropped and logged.
func (c *Client) enqueue(query string, args ...interface{}) {
	select {
	case c.writeQueue <- writeRequest{query: query, args: args}:
	default:
		c.logger.Warn("Persistence queue full, dropping write")
	}
}

// Close stops the workers and closes the pool.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.workerWg.Wait()
	return c.db.Close()
}
