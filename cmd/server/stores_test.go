package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/psych-forms/internal/config"
	"github.com/iliyamo/psych-forms/internal/model"
	"github.com/iliyamo/psych-forms/internal/repository"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		DataDir:          t.TempDir(),
		FileMirror:       true,
		RelationalDriver: config.DriverSQLite,
		SQLitePath:       fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()),
	}
}

func TestBuildStoreSeedsFromFileAndCatchesUpSQL(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	// Leave a user behind in the JSON documents from a "previous run".
	fs, err := repository.OpenFileStore(cfg.DataDir)
	require.NoError(t, err)
	u := &model.User{ID: uuid.NewString(), Username: "dra", Role: model.RolePsychologist,
		CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, fs.InsertUser(ctx, u))

	b, err := openBackends(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	store, err := buildStore(ctx, cfg, b, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Primary().GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "dra", got.Username)

	got, err = b.sql.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "dra", got.Username)
}

func TestBuildStoreSeedsFromSQLWhenFilesEmpty(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	b, err := openBackends(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	u := &model.User{ID: uuid.NewString(), Username: "joao", Role: model.RolePatient,
		CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, b.sql.InsertUser(ctx, u))

	store, err := buildStore(ctx, cfg, b, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Primary().GetUser(ctx, u.ID)
	require.NoError(t, err)
	_, err = b.file.GetUser(ctx, u.ID)
	require.NoError(t, err, "file documents are caught up from memory")
}

func TestOpenBackendsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.FileMirror = false
	cfg.RelationalDriver = config.DriverNone

	b, err := openBackends(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, b.mirrors())
	assert.NoError(t, b.close())
}
