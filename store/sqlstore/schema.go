package sqlstore

import (
	"context"
	"fmt"

	"github.com/xraph/grove/migrate"
)

// Schema is the set of grove migration groups one dialect registers. Core
// always runs. Each optional group creates one optional table and depends
// on Core, so a deployment can leave it out with WithoutTables.
type Schema struct {
	Core     *migrate.Group
	Optional []OptionalGroup
}

// OptionalGroup pairs an optional table with the group that creates it.
type OptionalGroup struct {
	Table string
	Group *migrate.Group
}

// Groups returns Core followed by the optional groups whose table is not
// in skip.
func (sc Schema) Groups(skip map[string]bool) []*migrate.Group {
	groups := []*migrate.Group{sc.Core}
	for _, og := range sc.Optional {
		if !skip[og.Table] {
			groups = append(groups, og.Group)
		}
	}
	return groups
}

// Statements returns a migration step that runs stmts in order.
func Statements(stmts ...string) migrate.MigrateFunc {
	return func(ctx context.Context, exec migrate.Executor) error {
		for _, stmt := range stmts {
			if _, err := exec.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// DropTables returns a rollback step that drops tables in order.
func DropTables(tables ...string) migrate.MigrateFunc {
	return func(ctx context.Context, exec migrate.Executor) error {
		for _, t := range tables {
			if _, err := exec.Exec(ctx, `DROP TABLE IF EXISTS `+t); err != nil {
				return err
			}
		}
		return nil
	}
}

// Migrate applies every pending migration with the grove orchestrator. The
// orchestrator holds the grove migration lock for the whole run, so
// concurrent process starts apply each migration once.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.db.Driver())
	if err != nil {
		return fmt.Errorf("%s: create migration executor: %w", s.prefix, err)
	}
	orch := migrate.NewOrchestrator(executor, s.dialect.Schema().Groups(s.skip)...)
	result, err := orch.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("%s: migration failed: %w", s.prefix, err)
	}
	for _, m := range result.Applied {
		s.logger.Debug("applied migration",
			"store", s.dialect.Name(),
			"group", m.Group,
			"version", m.Version,
			"name", m.Name,
		)
	}
	return nil
}
