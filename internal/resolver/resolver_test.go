package resolver

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvereign/backend/internal/apperr"
)

const resolverTenant = "33333333-0000-0000-0000-000000000001"

func TestResolveMissWithoutCreate(t *testing.T) {
	svc := NewService(NewMemoryStore())
	_, err := svc.Resolve(context.Background(), resolverTenant, "sap", "driver", "EXT-1", nil)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "NOT_FOUND", ae.Code)
}

func TestResolveCreateOnMissIsStable(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	first, err := svc.Resolve(ctx, resolverTenant, "sap", "driver", "EXT-1", &CreatePayload{})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.InternalID)

	// Resolving again, with or without a payload, lands on the same UUID.
	second, err := svc.Resolve(ctx, resolverTenant, "sap", "driver", "EXT-1", nil)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.InternalID, second.InternalID)
}

func TestResolveTenantsDoNotShareMappings(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	a, err := svc.Resolve(ctx, "tenant-a", "sap", "driver", "EXT-1", &CreatePayload{})
	require.NoError(t, err)
	b, err := svc.Resolve(ctx, "tenant-b", "sap", "driver", "EXT-1", &CreatePayload{})
	require.NoError(t, err)
	assert.NotEqual(t, a.InternalID, b.InternalID)
}

func TestResolveConcurrentCreateConverges(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	const n = 8
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Resolve(ctx, resolverTenant, "sap", "driver", "EXT-RACE", &CreatePayload{})
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		assert.Equal(t, results[0].InternalID, r.InternalID)
		if r.Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestResolveBulk(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	d1, err := svc.Resolve(ctx, resolverTenant, "sap", "driver", "D-1", &CreatePayload{})
	require.NoError(t, err)
	d3, err := svc.Resolve(ctx, resolverTenant, "sap", "driver", "D-3", &CreatePayload{})
	require.NoError(t, err)

	results, err := svc.ResolveBulk(ctx, resolverTenant, "sap", "driver", []string{"D-1", "D-2", "D-3"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Output mirrors input order; misses carry found=false.
	assert.Equal(t, Result{ExternalID: "D-1", InternalID: d1.InternalID, Found: true}, results[0])
	assert.Equal(t, Result{ExternalID: "D-2", Found: false}, results[1])
	assert.Equal(t, Result{ExternalID: "D-3", InternalID: d3.InternalID, Found: true}, results[2])
}

func TestResolveBulkCapsInput(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ids := make([]string, MaxBulkSize+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("D-%d", i)
	}
	_, err := svc.ResolveBulk(context.Background(), resolverTenant, "sap", "driver", ids)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "INPUT_TOO_LARGE", ae.Code)

	empty, err := svc.ResolveBulk(context.Background(), resolverTenant, "sap", "driver", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
