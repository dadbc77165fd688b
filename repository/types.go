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

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/bunkit/bunkit/types"
)

// ErrConflictUnsupported is returned when the requested conflict policy (or a
// per-column conflict target) cannot be expressed on the current dialect.
var ErrConflictUnsupported = errors.New("repository: conflict policy not supported by dialect")

// ConflictPolicy selects how BulkInsert resolves unique constraint conflicts.
type ConflictPolicy string

const (
	// ConflictFail performs a plain INSERT; constraint violations surface
	// as errors from the driver.
	ConflictFail ConflictPolicy = "fail"
	// ConflictNothing skips conflicting rows (ON CONFLICT DO NOTHING or the
	// dialect equivalent).
	ConflictNothing ConflictPolicy = "nothing"
	// ConflictUpdate turns conflicting rows into updates (ON CONFLICT DO
	// UPDATE / ON DUPLICATE KEY UPDATE).
	ConflictUpdate ConflictPolicy = "update"
)

// InsertOption customizes a BulkInsert call.
type InsertOption func(*insertOptions)

type insertOptions struct {
	policy          ConflictPolicy
	conflictColumns []string
	updateColumns   []string
	insertColumns   []string
	returning       bool
}

func newInsertOptions(opts []InsertOption) insertOptions {
	o := insertOptions{policy: ConflictFail, returning: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OnConflict selects the conflict policy. The default is ConflictFail.
func OnConflict(policy ConflictPolicy) InsertOption {
	return func(o *insertOptions) { o.policy = policy }
}

// ConflictColumns sets the conflict target columns for ConflictNothing and
// ConflictUpdate. When unset, ConflictUpdate targets the "id" column.
func ConflictColumns(columns ...string) InsertOption {
	return func(o *insertOptions) { o.conflictColumns = columns }
}

// UpdateColumns limits which columns a ConflictUpdate rewrites. When unset,
// all non-primary-key columns are updated.
func UpdateColumns(columns ...string) InsertOption {
	return func(o *insertOptions) { o.updateColumns = columns }
}

// InsertColumns limits which columns are written by the INSERT itself.
func InsertColumns(columns ...string) InsertOption {
	return func(o *insertOptions) { o.insertColumns = columns }
}

// WithoutReturning disables scanning database-generated values back into the
// inserted models on dialects that support RETURNING.
func WithoutReturning() InsertOption {
	return func(o *insertOptions) { o.returning = false }
}

// CrudRepository defines basic CRUD operations for a generic entity type.
// Single-row lookups return (nil, nil) when no row matches.
type CrudRepository[T any] interface {
	Get(ctx context.Context, pk any) (*T, error)

	First(ctx context.Context, filter *types.QueryFilter) (*T, error)

	FindBy(ctx context.Context, criteria map[string]any) (*T, error)

	All(ctx context.Context) ([]*T, error)

	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	Exists(ctx context.Context, filter *types.QueryFilter) (bool, error)

	Save(ctx context.Context, entity ...*T) error

	BulkInsert(ctx context.Context, entities []*T, opts ...InsertOption) ([]*T, error)

	Update(ctx context.Context, entity *T) error

	Delete(ctx context.Context, entity *T) error

	DeleteByPK(ctx context.Context, pk any) error
}

// TrackedRepository provides timestamp-based lookups for entity types that
// embed model.TimestampsModel (created_at/updated_at columns).
type TrackedRepository[T any] interface {
	LastModified(ctx context.Context) (*T, error)
	LastCreated(ctx context.Context) (*T, error)
	FirstCreated(ctx context.Context) (*T, error)
	ModifiedSince(ctx context.Context, since time.Time) ([]*T, error)
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// TransactionRepository defines transaction lifecycle helpers and CRUD
// operations executed within an existing transaction.
type TransactionRepository[T any] interface {
	// WithTx returns a repository view whose operations run on the given
	// transaction instead of the root connection.
	WithTx(tx bun.Tx) Repository[T]

	// RunInTx runs fn inside a transaction, committing on success and
	// rolling back on error.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error

	SaveWithTx(ctx context.Context, tx bun.Tx, entity ...*T) error
	BulkInsertWithTx(ctx context.Context, tx bun.Tx, entities []*T, opts ...InsertOption) ([]*T, error)
	UpdateWithTx(ctx context.Context, tx bun.Tx, entity *T) error
	DeleteWithTx(ctx context.Context, tx bun.Tx, pk any) error
}

// Repository combines CRUD, pagination, timestamp-tracked, and transactional
// operations and exposes Bun query builders for advanced use cases.
type Repository[T any] interface {
	CrudRepository[T]
	TrackedRepository[T]
	PageQueryRepository[T]
	TransactionRepository[T]
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}
