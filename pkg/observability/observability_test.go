package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledWithoutEndpoint(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}
