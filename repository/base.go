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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"

	"github.com/bunkit/bunkit/types"
)

type baseRepositoryImpl[T any] struct {
	db   *bun.DB
	conn bun.IDB
}

// NewRepository returns a generic repository backed by the provided Bun DB.
func NewRepository[T any](db *bun.DB) Repository[T] {
	return &baseRepositoryImpl[T]{db: db, conn: db}
}

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.conn.NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.conn.NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.conn.NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.conn.NewDelete() }

func (r *baseRepositoryImpl[T]) table() *schema.Table {
	return r.db.Table(reflect.TypeOf((*T)(nil)).Elem())
}

func (r *baseRepositoryImpl[T]) pkColumn() string {
	if t := r.table(); len(t.PKs) > 0 {
		return t.PKs[0].Name
	}
	return "id"
}

func (r *baseRepositoryImpl[T]) valsToSlice(entity ...*T) []*T {
	entities := make([]*T, len(entity))
	copy(entities, entity)
	return entities
}

// --- Reads ---

func (r *baseRepositoryImpl[T]) Get(ctx context.Context, pk any) (*T, error) {
	var entity T
	err := r.conn.NewSelect().Model(&entity).
		Where("? = ?", bun.Ident(r.pkColumn()), pk).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *baseRepositoryImpl[T]) First(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	query := r.conn.NewSelect()
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	return r.scanFirst(ctx, query.OrderExpr("? ASC", bun.Ident(r.pkColumn())))
}

func (r *baseRepositoryImpl[T]) FindBy(ctx context.Context, criteria map[string]any) (*T, error) {
	query := r.conn.NewSelect()
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query = query.Where("? = ?", bun.Ident(k), criteria[k])
	}
	return r.scanFirst(ctx, query.OrderExpr("? ASC", bun.Ident(r.pkColumn())))
}

func (r *baseRepositoryImpl[T]) scanFirst(ctx context.Context, query *bun.SelectQuery) (*T, error) {
	var entity T
	err := query.Model(&entity).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *baseRepositoryImpl[T]) All(ctx context.Context) ([]*T, error) {
	var entities []*T
	err := r.conn.NewSelect().Model(&entities).Scan(ctx)
	return entities, err
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	var entities []*T
	query := r.conn.NewSelect().Model(&entities)
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	var entities []*T
	err := r.conn.NewSelect().Model(&entities).Where(query, args...).Scan(ctx)
	return entities, err
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	query := r.conn.NewSelect().Model((*T)(nil))
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	return query.Count(ctx)
}

func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, filter *types.QueryFilter) (bool, error) {
	query := r.conn.NewSelect().Model((*T)(nil))
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	return query.Exists(ctx)
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	var entities []*T
	query := r.conn.NewSelect().Model(&entities)
	if pageRequest.GetFilter() != nil {
		query = query.Where(pageRequest.GetFilter().Schema, pageRequest.GetFilter().Args...)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

// --- Timestamp-tracked queries (created_at/updated_at columns) ---

func (r *baseRepositoryImpl[T]) LastModified(ctx context.Context) (*T, error) {
	return r.scanFirst(ctx, r.conn.NewSelect().OrderExpr("updated_at DESC"))
}

func (r *baseRepositoryImpl[T]) LastCreated(ctx context.Context) (*T, error) {
	return r.scanFirst(ctx, r.conn.NewSelect().OrderExpr("created_at DESC"))
}

func (r *baseRepositoryImpl[T]) FirstCreated(ctx context.Context) (*T, error) {
	return r.scanFirst(ctx, r.conn.NewSelect().OrderExpr("created_at ASC"))
}

func (r *baseRepositoryImpl[T]) ModifiedSince(ctx context.Context, since time.Time) ([]*T, error) {
	var entities []*T
	err := r.conn.NewSelect().Model(&entities).
		Where("updated_at > ?", since).
		OrderExpr("updated_at DESC").
		Scan(ctx)
	return entities, err
}

// --- Writes ---

func (r *baseRepositoryImpl[T]) Save(ctx context.Context, entity ...*T) error {
	entities := r.valsToSlice(entity...)
	_, err := r.conn.NewInsert().Model(&entities).Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T) error {
	_, err := r.conn.NewUpdate().Model(entity).WherePK().Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, entity *T) error {
	_, err := r.conn.NewDelete().Model(entity).WherePK().Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) DeleteByPK(ctx context.Context, pk any) error {
	_, err := r.conn.NewDelete().Model((*T)(nil)).
		Where("? = ?", bun.Ident(r.pkColumn()), pk).
		Exec(ctx)
	return err
}

// BulkInsert inserts entities in a single statement, resolving unique
// constraint conflicts according to the configured policy.
//
// The returned slice is the input slice: on dialects with RETURNING support,
// database-generated values are scanned back into it for the fail and update
// policies. With ConflictNothing, skipped rows simply keep their client-side
// values.
func (r *baseRepositoryImpl[T]) BulkInsert(ctx context.Context, entities []*T, opts ...InsertOption) ([]*T, error) {
	return r.bulkInsert(ctx, r.conn, entities, opts)
}

func (r *baseRepositoryImpl[T]) bulkInsert(ctx context.Context, idb bun.IDB, entities []*T, opts []InsertOption) ([]*T, error) {
	if len(entities) == 0 {
		return []*T{}, nil
	}
	o := newInsertOptions(opts)

	query := idb.NewInsert().Model(&entities)
	if len(o.insertColumns) > 0 {
		query = query.Column(o.insertColumns...)
	}

	switch o.policy {
	case ConflictFail:
		// plain INSERT

	case ConflictNothing:
		switch {
		case r.db.HasFeature(feature.InsertOnConflict):
			if len(o.conflictColumns) > 0 {
				query = query.On("CONFLICT (" + strings.Join(o.conflictColumns, ", ") + ") DO NOTHING")
			} else {
				query = query.Ignore()
			}
		case r.db.HasFeature(feature.InsertOnDuplicateKey):
			if len(o.conflictColumns) > 0 {
				return nil, fmt.Errorf("%w: conflict target columns", ErrConflictUnsupported)
			}
			query = query.Ignore()
		default:
			return nil, fmt.Errorf("%w: %q", ErrConflictUnsupported, o.policy)
		}

	case ConflictUpdate:
		switch {
		case r.db.HasFeature(feature.InsertOnConflict):
			targets := o.conflictColumns
			if len(targets) == 0 {
				targets = []string{r.pkColumn()}
			}
			setCols := r.updateColumns(o, targets)
			if len(setCols) == 0 {
				return nil, fmt.Errorf("repository: no columns left to update on conflict")
			}
			assignments := make([]string, 0, len(setCols))
			for _, col := range setCols {
				assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", bun.Ident(col), bun.Ident(col)))
			}
			query = query.
				On("CONFLICT (" + strings.Join(targets, ", ") + ") DO UPDATE").
				Set(strings.Join(assignments, ", "))
		case r.db.HasFeature(feature.InsertOnDuplicateKey):
			if len(o.conflictColumns) > 0 {
				return nil, fmt.Errorf("%w: conflict target columns", ErrConflictUnsupported)
			}
			setCols := r.updateColumns(o, nil)
			assignments := make([]string, 0, len(setCols))
			for _, col := range setCols {
				assignments = append(assignments, fmt.Sprintf("%s = VALUES(%s)", bun.Ident(col), bun.Ident(col)))
			}
			query = query.On("DUPLICATE KEY UPDATE " + strings.Join(assignments, ", "))
		default:
			return r.upsertFallback(ctx, idb, entities)
		}

	default:
		return nil, fmt.Errorf("repository: unknown conflict policy %q", o.policy)
	}

	if o.returning && o.policy != ConflictNothing && r.supportsReturning() {
		query = query.Returning("*")
	}

	if _, err := query.Exec(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

// updateColumns resolves the SET column list for ConflictUpdate: the explicit
// option wins, then the insert column subset, then all non-PK columns minus
// the conflict target.
func (r *baseRepositoryImpl[T]) updateColumns(o insertOptions, conflictTargets []string) []string {
	if len(o.updateColumns) > 0 {
		return o.updateColumns
	}
	if len(o.insertColumns) > 0 {
		return excludeColumns(o.insertColumns, conflictTargets)
	}
	cols := make([]string, 0, len(r.table().DataFields))
	for _, f := range r.table().DataFields {
		cols = append(cols, f.Name)
	}
	return excludeColumns(cols, conflictTargets)
}

// upsertFallback emulates update-on-conflict row by row for dialects without
// an upsert clause.
func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, idb bun.IDB, entities []*T) ([]*T, error) {
	for _, entity := range entities {
		if _, err := idb.NewInsert().Model(entity).Exec(ctx); err != nil {
			if _, updateErr := idb.NewUpdate().Model(entity).WherePK().Exec(ctx); updateErr != nil {
				return nil, fmt.Errorf("upsert failed: insert error: %v, update error: %v", err, updateErr)
			}
		}
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) supportsReturning() bool {
	return r.db.HasFeature(feature.Returning) || r.db.HasFeature(feature.InsertReturning)
}

// --- Transactions ---

func (r *baseRepositoryImpl[T]) WithTx(tx bun.Tx) Repository[T] {
	return &baseRepositoryImpl[T]{db: r.db, conn: tx}
}

func (r *baseRepositoryImpl[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func (r *baseRepositoryImpl[T]) SaveWithTx(ctx context.Context, tx bun.Tx, entity ...*T) error {
	entities := r.valsToSlice(entity...)
	_, err := tx.NewInsert().Model(&entities).Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) BulkInsertWithTx(ctx context.Context, tx bun.Tx, entities []*T, opts ...InsertOption) ([]*T, error) {
	return r.bulkInsert(ctx, tx, entities, opts)
}

func (r *baseRepositoryImpl[T]) UpdateWithTx(ctx context.Context, tx bun.Tx, entity *T) error {
	_, err := tx.NewUpdate().Model(entity).WherePK().Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) DeleteWithTx(ctx context.Context, tx bun.Tx, pk any) error {
	_, err := tx.NewDelete().Model((*T)(nil)).
		Where("? = ?", bun.Ident(r.pkColumn()), pk).
		Exec(ctx)
	return err
}

// --- helpers ---

func excludeColumns(cols, exclude []string) []string {
	if len(exclude) == 0 {
		return cols
	}
	out := cols[:0:0]
	for _, c := range cols {
		skip := false
		for _, e := range exclude {
			if c == e {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, c)
		}
	}
	return out
}
