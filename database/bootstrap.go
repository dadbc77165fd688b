/*
 * Copyright 2025 The bunkit Authors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

// Bootstrapper creates tables for registered models and records which
// bootstrap steps have already been applied, so repeated startups are cheap
// and idempotent.
type Bootstrapper struct {
	db          *bun.DB
	logger      Logger
	environment string
}

// Revision is an applied bootstrap step record stored in the database.
type Revision struct {
	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// StepFunc is a bootstrap step executed within a transaction.
type StepFunc func(ctx context.Context, db bun.IDB) error

// Step describes a single versioned bootstrap step.
type Step struct {
	Version     string
	Name        string
	Description string
	Up          StepFunc
}

// NewBootstrapper constructs a Bootstrapper for the given database. The
// default environment is "development".
func NewBootstrapper(db *bun.DB, logger Logger) *Bootstrapper {
	return &Bootstrapper{
		db:          db,
		logger:      logger,
		environment: "development",
	}
}

// SetEnvironment sets the environment used when seeding data from SQL files.
func (b *Bootstrapper) SetEnvironment(env string) {
	b.environment = env
}

// Run creates the revision tracking table if needed and executes all pending
// steps in ascending version order.
func (b *Bootstrapper) Run(ctx context.Context) error {
	if _, ok := os.LookupEnv("BUNKIT_SQL_LOG_BOOTSTRAP"); !ok {
		EnableSQLSilent(true)
		defer EnableSQLSilent(false)
	}

	if b.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := b.createRevisionTable(ctx); err != nil {
		return fmt.Errorf("failed to create revision table: %w", err)
	}

	steps := b.steps()
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Version < steps[j].Version
	})

	for _, step := range steps {
		if err := b.runStep(ctx, step); err != nil {
			return fmt.Errorf("failed to execute bootstrap step %s: %w", step.Version, err)
		}
	}

	if b.logger != nil {
		b.logger.Info("Database bootstrap completed!")
	}
	return nil
}

func (b *Bootstrapper) createRevisionTable(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*Revision)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (b *Bootstrapper) steps() []Step {
	steps := []Step{
		{
			Version:     "001",
			Name:        "create_model_tables",
			Description: "Create tables for registered models",
			Up:          b.createModelTables,
		},
	}
	if globalConfig != nil && globalConfig.Bootstrap.SeedOnBootstrap {
		steps = append(steps, Step{
			Version:     "002",
			Name:        "seed_initial_data",
			Description: "Seed initial data from SQL files",
			Up:          b.seedInitialData,
		})
	}
	return steps
}

func (b *Bootstrapper) runStep(ctx context.Context, step Step) error {
	exists, err := b.db.NewSelect().
		Model((*Revision)(nil)).
		Where("version = ?", step.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var committed bool
	defer func(tx bun.Tx) {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && b.logger != nil {
				b.logger.Error("Failed to rollback transaction", "error", rollbackErr)
			}
		}
	}(tx)

	if err := step.Up(ctx, tx); err != nil {
		return err
	}

	record := &Revision{
		Version:     step.Version,
		Name:        step.Name,
		AppliedAt:   time.Now(),
		Description: step.Description,
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	if b.logger != nil {
		b.logger.Info("Bootstrap step executed successfully", "version", step.Version, "name", step.Name)
	}
	return nil
}

func (b *Bootstrapper) createModelTables(ctx context.Context, db bun.IDB) error {
	for _, model := range RegisteredModelInstances() {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}
	return nil
}

func (b *Bootstrapper) seedInitialData(ctx context.Context, db bun.IDB) error {
	seeder := NewSeeder(b.db, b.environment)
	if globalConfig != nil && globalConfig.Seed.Filepath != "" {
		seeder.SetRootPath(globalConfig.Seed.Filepath)
	}
	return seeder.Run(ctx)
}
