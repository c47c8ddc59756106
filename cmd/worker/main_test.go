package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/reembolso/internal/app"
	_ "github.com/odyssey-erp/reembolso/internal/testing/guard"
)

func TestWorkerSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}
