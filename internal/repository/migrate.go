package repository

import (
	"context"
	"errors"
	"fmt"
)

// MigrateStats counts the records copied by Migrate.
type MigrateStats struct {
	Users, Forms, Responses int
}

// Migrate copies every user, then every form, then every response from
// src into dst by upsert.  It is idempotent.  A record that fails to copy
// does not stop the run; all failures are joined into the returned error.
func Migrate(ctx context.Context, src, dst Store) (MigrateStats, error) {
	var (
		stats MigrateStats
		errs  []error
	)

	users, err := src.ListUsers(ctx, UserFilter{})
	if err != nil {
		return stats, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if err := dst.UpsertUser(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		stats.Users++
	}

	forms, err := src.ListForms(ctx, FormFilter{})
	if err != nil {
		return stats, errors.Join(append(errs, fmt.Errorf("list forms: %w", err))...)
	}
	for _, f := range forms {
		if err := dst.UpsertForm(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("form %s: %w", f.ID, err))
			continue
		}
		stats.Forms++
	}

	responses, err := src.ListResponses(ctx, ResponseFilter{})
	if err != nil {
		return stats, errors.Join(append(errs, fmt.Errorf("list responses: %w", err))...)
	}
	for _, r := range responses {
		if err := dst.UpsertResponse(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("response %s: %w", r.ID, err))
			continue
		}
		stats.Responses++
	}
	return stats, errors.Join(errs...)
}
