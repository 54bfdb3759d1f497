// Package repository picks a project store backend from a DSN.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/FynnBe/ilastik/internal/adapters/repository/file"
	"github.com/FynnBe/ilastik/internal/adapters/repository/memory"
	"github.com/FynnBe/ilastik/internal/adapters/repository/postgres"
	"github.com/FynnBe/ilastik/internal/adapters/repository/sqlite"
	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

// Open returns the store for dsn and a func releasing it:
//
//	memory:              in-process store
//	sqlite:<path>        SQLite database file
//	postgres://...       PostgreSQL
//	<dir>                directory of project files
func Open(ctx context.Context, dsn string, ser *serialization.Serializer) (project.Store, func() error, error) {
	nop := func() error { return nil }
	switch {
	case dsn == "":
		return nil, nil, fmt.Errorf("empty store DSN")
	case dsn == "memory:":
		return memory.New(memory.Config{Serializer: ser}), nop, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		s, err := sqlite.Open(ctx, strings.TrimPrefix(dsn, "sqlite:"), ser)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := postgres.Open(ctx, dsn, ser)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		s, err := file.Open(dsn, ser)
		if err != nil {
			return nil, nil, err
		}
		return s, nop, nil
	}
}
