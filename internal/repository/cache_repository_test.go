package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "timetable", nil)
	ctx := context.Background()

	var dest map[string]string
	assert.ErrorIs(t, repo.Get(ctx, "settings", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "settings", map[string]string{"a": "b"}, time.Minute))
	assert.NoError(t, repo.Delete(ctx, "settings"))
	assert.NoError(t, repo.DeleteByPattern(ctx, "grids:*"))
	assert.NoError(t, repo.Close())
}

func TestCacheRepositoryKeyNamespace(t *testing.T) {
	assert.Equal(t, "timetable:grids:class:a", NewCacheRepository(nil, "timetable", nil).key("grids:class:a"))
	assert.Equal(t, "grids:class:a", NewCacheRepository(nil, "", nil).key("grids:class:a"))
}
