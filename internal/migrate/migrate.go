// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package migrate applies the Prisma schemas of a project's modules to
// their development databases.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/localexec"
	"namespacelabs.dev/backendkit/internal/project"
)

const (
	connBackoff    = 1500 * time.Millisecond
	connMaxRetries = 10

	DefaultCommand = "prisma"
)

type Migrator struct {
	// Connection string to the development server, used to create each
	// module's database. If empty, databases are expected to exist.
	DatabaseURL string
	// Binary of the Prisma CLI.
	Command string
}

// Migratable returns the modules with a database whose source belongs to
// the project. Modules of external registries are read-only.
func Migratable(modules []*project.Module) []*project.Module {
	var out []*project.Module
	for _, m := range modules {
		if m.DB != nil && !m.Registry.External {
			out = append(out, m)
		}
	}
	return out
}

// MigrateDev creates and applies development migrations for each module.
func (m Migrator) MigrateDev(ctx context.Context, modules []*project.Module) error {
	for _, mod := range modules {
		if mod.DB == nil {
			continue
		}

		var env []string
		if m.DatabaseURL != "" {
			dbURL, err := m.ensureDatabase(ctx, mod.DB.Name)
			if err != nil {
				return fnerrors.Wrap(mod, err)
			}
			env = append(env, "DATABASE_URL="+dbURL)
		}

		if err := (localexec.Command{
			Label:         fmt.Sprintf("prisma migrate dev (%s)", mod.Name),
			Command:       m.command(),
			Args:          []string{"migrate", "dev", "--schema", mod.DB.SchemaPath, "--skip-generate"},
			Dir:           mod.Path,
			AdditionalEnv: env,
		}).Run(ctx); err != nil {
			return err
		}

		zerolog.Ctx(ctx).Info().Str("module", mod.Name).Str("database", mod.DB.Name).Msg("Migrated.")
	}

	return nil
}

func (m Migrator) command() string {
	if m.Command != "" {
		return m.Command
	}
	return DefaultCommand
}

// ensureDatabase creates the named database if it doesn't exist yet, and
// returns its connection string.
func (m Migrator) ensureDatabase(ctx context.Context, name string) (string, error) {
	dbURL, err := DatabaseURL(m.DatabaseURL, name)
	if err != nil {
		return "", err
	}

	cfg, err := pgx.ParseConfig(m.DatabaseURL)
	if err != nil {
		return "", fnerrors.BadInputError("invalid database url: %w", err)
	}
	cfg.ConnectTimeout = connBackoff

	// Retry until the server is ready.
	conn, err := backoff.RetryWithData(func() (*pgx.Conn, error) {
		conn, err := pgx.ConnectConfig(ctx, cfg)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("Failed to connect to postgres.")
			return nil, err
		}
		return conn, nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(connBackoff), connMaxRetries), ctx))
	if err != nil {
		return "", fnerrors.UserError(nil, "failed to connect to the development database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil && !isDuplicateDatabase(err) {
		return "", fmt.Errorf("failed to create database %q: %w", name, err)
	}

	return dbURL, nil
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateDatabase
}

// DatabaseURL returns serverURL with its database replaced by name.
func DatabaseURL(serverURL, name string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fnerrors.BadInputError("invalid database url: %w", err)
	}

	u.Path = "/" + name
	return u.String(), nil
}
