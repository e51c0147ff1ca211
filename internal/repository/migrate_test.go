package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/psych-forms/internal/model"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore()
	require.NoError(t, src.InsertUser(ctx, user("u1", "dra", model.RolePsychologist, t0)))
	require.NoError(t, src.InsertUser(ctx, user("u2", "joao", model.RolePatient, t0.Add(time.Second))))
	require.NoError(t, src.InsertForm(ctx, form("f1", "u1", t0, "u2")))
	require.NoError(t, src.InsertResponse(ctx, response("r1", "f1", "u2", t0)))

	dst := newSQLiteStore(t)
	for i := 0; i < 2; i++ {
		stats, err := Migrate(ctx, src, dst)
		require.NoError(t, err)
		assert.Equal(t, MigrateStats{Users: 2, Forms: 1, Responses: 1}, stats)
	}

	users, err := dst.ListUsers(ctx, UserFilter{})
	require.NoError(t, err)
	want, err := src.ListUsers(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, want, users)

	f, err := dst.GetForm(ctx, "f1")
	require.NoError(t, err)
	wf, err := src.GetForm(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, wf, f)

	r, err := dst.FindResponse(ctx, "f1", "u2")
	require.NoError(t, err)
	wr, err := src.GetResponse(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, wr, r)
}

func TestMigrateContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore()
	require.NoError(t, src.InsertUser(ctx, user("u1", "dra", model.RolePsychologist, t0)))
	require.NoError(t, src.InsertUser(ctx, user("u2", "joao", model.RolePatient, t0)))

	dst := NewMemoryStore()
	// a different id already owns "dra" in the destination
	require.NoError(t, dst.InsertUser(ctx, user("x", "dra", model.RolePsychologist, t0)))

	stats, err := Migrate(ctx, src, dst)
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Equal(t, 1, stats.Users)
	_, err = dst.GetUser(ctx, "u2")
	assert.NoError(t, err)
}
