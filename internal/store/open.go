package store

import (
	"context"
	"fmt"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
)

// Backend is an opened record store with its lifecycle hooks.
type Backend struct {
	Name  string
	Store attendance.Store
	Ping  func(ctx context.Context) error
	Close func(ctx context.Context) error
}

// Open connects the backend selected by cfg.StoreBackend. Callers must Close it.
func Open(ctx context.Context, cfg config.App) (*Backend, error) {
	switch cfg.StoreBackend {
	case "mongo":
		m, err := NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: "mongo", Store: m, Ping: m.Ping, Close: m.Close}, nil
	case "postgres":
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Backend{
			Name:  "postgres",
			Store: pg,
			Ping:  db.Ping,
			Close: func(context.Context) error { return db.Close() },
		}, nil
	case "memory":
		return &Backend{
			Name:  "memory",
			Store: NewMemory(),
			Ping:  func(context.Context) error { return nil },
			Close: func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("store: unknown backend %q", cfg.StoreBackend)
}
