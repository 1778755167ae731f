package visibility

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEdges is an in-memory EdgeStore counting reads, so tests can observe
// memoization.
type fakeEdges struct {
	mu    sync.Mutex
	edges map[string][]string
	reads int
}

func newFakeEdges() *fakeEdges {
	return &fakeEdges{edges: make(map[string][]string)}
}

func (f *fakeEdges) AddSeesEdge(_ context.Context, observer, observed string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.edges[observer] {
		if o == observed {
			return nil
		}
	}
	f.edges[observer] = append(f.edges[observer], observed)
	return nil
}

func (f *fakeEdges) SeesEdgesFrom(_ context.Context, observer string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return append([]string(nil), f.edges[observer]...), nil
}

func (f *fakeEdges) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func TestAddCanSeeDirection(t *testing.T) {
	edges := newFakeEdges()
	cache := NewMemory(edges, 0)
	ctx := context.Background()

	// A was mentioned in a claim issued by C: A gains sight of C.
	require.NoError(t, cache.AddCanSee(ctx, "did:ethr:0xC", "did:ethr:0xA"))

	network, err := cache.Network(ctx, "did:ethr:0xA")
	require.NoError(t, err)
	assert.Contains(t, network, "did:ethr:0xC")

	// Not the other way around.
	cache.Invalidate(ctx)
	network, err = cache.Network(ctx, "did:ethr:0xC")
	require.NoError(t, err)
	assert.NotContains(t, network, "did:ethr:0xA")
}

func TestNetworkIncludesSelf(t *testing.T) {
	cache := NewMemory(newFakeEdges(), 0)
	network, err := cache.Network(context.Background(), "did:ethr:0xLoner")
	require.NoError(t, err)
	assert.Equal(t, []string{"did:ethr:0xLoner"}, network)
}

func TestNetworkTransitiveWithDepthBound(t *testing.T) {
	edges := newFakeEdges()
	ctx := context.Background()
	require.NoError(t, edges.AddSeesEdge(ctx, "a", "b"))
	require.NoError(t, edges.AddSeesEdge(ctx, "b", "c"))
	require.NoError(t, edges.AddSeesEdge(ctx, "c", "d"))
	require.NoError(t, edges.AddSeesEdge(ctx, "d", "e"))

	deep := NewMemory(edges, 4)
	network, err := deep.Network(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, network)

	shallow := NewMemory(edges, 2)
	network, err = shallow.Network(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, network, "traversal stops at the configured depth")
}

func TestNetworkMemoized(t *testing.T) {
	edges := newFakeEdges()
	ctx := context.Background()
	require.NoError(t, edges.AddSeesEdge(ctx, "a", "b"))

	cache := NewMemory(edges, 0)
	_, err := cache.Network(ctx, "a")
	require.NoError(t, err)
	after := edges.readCount()

	_, err = cache.Network(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, after, edges.readCount(), "second lookup must hit the cache")
}

func TestInvalidateForcesRecompute(t *testing.T) {
	edges := newFakeEdges()
	ctx := context.Background()
	cache := NewMemory(edges, 0)

	network, err := cache.Network(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, network)

	// New ingestion adds an edge and invalidates.
	require.NoError(t, cache.AddCanSee(ctx, "b", "a"))
	cache.Invalidate(ctx)

	network, err = cache.Network(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, network, "cache hit must never predate the latest edge event")
}

func TestVisible(t *testing.T) {
	edges := newFakeEdges()
	ctx := context.Background()
	cache := NewMemory(edges, 0)
	require.NoError(t, cache.AddCanSee(ctx, "issuer", "mentioned"))

	ok, err := Visible(ctx, cache, "mentioned", "issuer")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Visible(ctx, cache, "stranger", "issuer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNetworkCyclesTerminate(t *testing.T) {
	edges := newFakeEdges()
	ctx := context.Background()
	require.NoError(t, edges.AddSeesEdge(ctx, "a", "b"))
	require.NoError(t, edges.AddSeesEdge(ctx, "b", "a"))

	cache := NewMemory(edges, 5)
	network, err := cache.Network(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, network)
}
