package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnabghosh/chat-queue/internal/config"
	"github.com/arnabghosh/chat-queue/internal/deadletter/inmemory"
)

func TestNew_Memory(t *testing.T) {
	repo, err := New(config.Default().DeadLetter)
	require.NoError(t, err)
	assert.IsType(t, &inmemory.Repository{}, repo)
}

func TestNew_MongoDBInvalidURI(t *testing.T) {
	cfg := config.Default().DeadLetter
	cfg.Store = config.DeadLetterStoreMongoDB
	cfg.MongoURI = "invalid://url"

	repo, err := New(cfg)
	assert.Error(t, err)
	assert.Nil(t, repo)
}
