package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()

	c := fleetClient(t, "uuid-1", "10.6.0.1")
	r.PutUnauthenticated(c)

	got, ok := r.Get("uuid-1")
	require.True(t, ok)
	assert.Equal(t, "uuid-1", got.IloUUID())

	addr, ok := r.AddressOf("uuid-1")
	require.True(t, ok)
	assert.Equal(t, "10.6.0.1", addr.String())

	unauth, auth := r.Len()
	assert.Equal(t, 1, unauth)
	assert.Equal(t, 0, auth)

	r.Remove("uuid-1")
	_, ok = r.Get("uuid-1")
	assert.False(t, ok)
	_, ok = r.AddressOf("uuid-1")
	assert.False(t, ok)
}

func TestRegistryPutReplacesByUUID(t *testing.T) {
	r := NewRegistry()

	r.PutUnauthenticated(fleetClient(t, "uuid-1", "10.6.0.1"))
	r.PutUnauthenticated(fleetClient(t, "uuid-1", "10.6.0.2"))

	unauth, _ := r.Len()
	assert.Equal(t, 1, unauth)

	addr, ok := r.AddressOf("uuid-1")
	require.True(t, ok)
	assert.Equal(t, "10.6.0.2", addr.String())
}

func TestRegistryListsAreCopies(t *testing.T) {
	r := NewRegistry()
	r.PutUnauthenticated(fleetClient(t, "uuid-1", "10.6.0.1"))
	r.PutUnauthenticated(fleetClient(t, "uuid-2", "10.6.0.2"))

	list := r.Unauthenticated()
	assert.Len(t, list, 2)

	list = list[:0]
	assert.Len(t, r.Unauthenticated(), 2)
}
