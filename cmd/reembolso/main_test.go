package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/reembolso/internal/app"
	"github.com/odyssey-erp/reembolso/internal/identity"
	_ "github.com/odyssey-erp/reembolso/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}

func TestMismatchStoreSelection(t *testing.T) {
	_, ok := mismatchStore(&app.Config{MismatchStore: "memory"}, nil).(*identity.MemoryStore)
	assert.True(t, ok)
	_, ok = mismatchStore(&app.Config{MismatchStore: "redis"}, nil).(*identity.RedisStore)
	assert.True(t, ok)
}
