package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefreshTestMode(t *testing.T) {
	t.Cleanup(func() { RefreshTestMode() })

	for raw, want := range map[string]bool{"1": true, "true": true, "0": false, "": false, "yes": false} {
		t.Setenv(TestModeEnv, raw)
		assert.Equal(t, want, RefreshTestMode(), raw)
		assert.Equal(t, want, InTestMode(), raw)
	}
}
