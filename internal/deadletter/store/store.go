// Package store selects the dead-letter repository named by configuration.
package store

import (
	"github.com/arnabghosh/chat-queue/internal/config"
	"github.com/arnabghosh/chat-queue/internal/deadletter"
	"github.com/arnabghosh/chat-queue/internal/deadletter/inmemory"
	"github.com/arnabghosh/chat-queue/internal/deadletter/mongodb"
)

// New builds the repository selected by cfg.Store
func New(cfg config.DeadLetterConfig) (deadletter.Repository, error) {
	switch cfg.Store {
	case config.DeadLetterStoreMongoDB:
		repo, err := mongodb.NewRepository(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return inmemory.NewRepository(cfg.Capacity), nil
	}
}
