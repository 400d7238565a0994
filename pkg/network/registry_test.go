package network

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(fd int) *Conn {
	return newConn(fd, "127.0.0.1:0", 0)
}

// assertAligned checks that both registry maps share one key set and identities are distinct
func assertAligned(t *testing.T, r *Registry) {
	t.Helper()

	require.Equal(t, len(r.conns), len(r.ids))
	seen := make(map[Identity]bool)
	for fd, id := range r.ids {
		_, ok := r.conns[fd]
		assert.True(t, ok, "identity map holds fd %d missing from connection map", fd)
		assert.False(t, seen[id], "identity %d assigned twice", id)
		seen[id] = true
	}
}

func TestRegistryAssignsIncreasingIdentities(t *testing.T) {
	r := NewRegistry(6)

	for i := 1; i <= 3; i++ {
		id, err := r.Register(testConn(10 + i))
		require.NoError(t, err)
		assert.Equal(t, Identity(i), id)
	}

	assert.Equal(t, []Identity{1, 2, 3}, r.Identities())
	assertAligned(t, r)
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2)

	_, err := r.Register(testConn(1))
	require.NoError(t, err)
	_, err = r.Register(testConn(2))
	require.NoError(t, err)

	_, err = r.Register(testConn(3))
	assert.ErrorIs(t, err, ErrRegistryFull)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []Identity{1, 2}, r.Identities())
	_, ok := r.Lookup(3)
	assert.False(t, ok)
	assertAligned(t, r)
}

func TestRegistryDisconnectFreesSlotNotIdentity(t *testing.T) {
	r := NewRegistry(2)
	first := testConn(1)

	_, err := r.Register(first)
	require.NoError(t, err)
	_, err = r.Register(testConn(2))
	require.NoError(t, err)

	r.Unregister(first)
	assert.Equal(t, []Identity{2}, r.Identities())

	id, err := r.Register(testConn(3))
	require.NoError(t, err)
	assert.Equal(t, Identity(3), id)
	assert.Equal(t, []Identity{2, 3}, r.Identities())
	assertAligned(t, r)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(0)
	assert.Equal(t, DefaultCapacity, r.Capacity())

	a, b := testConn(5), testConn(6)
	idA, _ := r.Register(a)
	idB, _ := r.Register(b)

	got, err := r.Resolve(idB)
	require.NoError(t, err)
	assert.Same(t, b, got)

	id, ok := r.IdentityOf(a)
	assert.True(t, ok)
	assert.Equal(t, idA, id)

	_, err = r.Resolve(99)
	assert.ErrorIs(t, err, ErrNotFound)

	r.Unregister(b)
	_, err = r.Resolve(idB)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok = r.IdentityOf(b)
	assert.False(t, ok)
}

func TestRegistryDuplicateAndUnknown(t *testing.T) {
	r := NewRegistry(3)
	c := testConn(7)

	_, err := r.Register(c)
	require.NoError(t, err)
	_, err = r.Register(c)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// a stale Conn sharing a reused fd must not evict the live one
	r.Unregister(testConn(7))
	assert.Equal(t, 1, r.Len())

	r.Unregister(testConn(42))
	assert.Equal(t, 1, r.Len())
	assertAligned(t, r)
}

func TestRegistryInvariantUnderRandomOperations(t *testing.T) {
	r := NewRegistry(4)
	rng := rand.New(rand.NewSource(7))
	live := map[int]*Conn{}
	lastID := Identity(0)

	for step := 0; step < 500; step++ {
		fd := rng.Intn(8)
		if c, ok := live[fd]; ok && rng.Intn(2) == 0 {
			r.Unregister(c)
			delete(live, fd)
		} else if !ok {
			c := testConn(fd)
			id, err := r.Register(c)
			if len(live) >= 4 {
				assert.ErrorIs(t, err, ErrRegistryFull)
			} else {
				require.NoError(t, err)
				assert.Greater(t, id, lastID)
				lastID = id
				live[fd] = c
			}
		}

		assertAligned(t, r)
		assert.Equal(t, len(live), r.Len())
	}
}
