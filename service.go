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

package bunkit

import (
	"context"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/bunkit/bunkit/database"
	"github.com/bunkit/bunkit/repository"
	"github.com/bunkit/bunkit/types"
)

type Service[T any] interface {
	// Get returns a single entity by its primary key, or nil when no row
	// matches.
	Get(ctx context.Context, pk any) (*T, error)

	// First returns the first entity matching the filter, or nil.
	First(ctx context.Context, filter *types.QueryFilter) (*T, error)

	// FindBy returns the first entity matching all column criteria, or nil.
	FindBy(ctx context.Context, criteria map[string]any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query executes a raw query and maps the results to entities.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Count returns the number of entities matching the filter.
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	// Exists reports whether any entity matches the filter.
	Exists(ctx context.Context, filter *types.QueryFilter) (bool, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Save inserts one or more new entities.
	Save(ctx context.Context, entity ...*T) error

	// BulkInsert inserts entities with a configurable conflict policy.
	BulkInsert(ctx context.Context, entities []*T, opts ...repository.InsertOption) ([]*T, error)

	// Update modifies an existing entity.
	Update(ctx context.Context, entity *T) error

	// Delete removes an entity.
	Delete(ctx context.Context, entity *T) error

	// DeleteByPK removes an entity by its primary key.
	DeleteByPK(ctx context.Context, pk any) error

	// LastModified returns the most recently updated entity.
	LastModified(ctx context.Context) (*T, error)

	// LastCreated returns the most recently created entity.
	LastCreated(ctx context.Context) (*T, error)

	// FirstCreated returns the oldest entity.
	FirstCreated(ctx context.Context) (*T, error)

	// ModifiedSince returns entities updated after the given time.
	ModifiedSince(ctx context.Context, since time.Time) ([]*T, error)

	// RunInTx runs fn inside a transaction, committing on success and
	// rolling back on error.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error

	// SaveWithTx inserts entities within an existing transaction.
	SaveWithTx(ctx context.Context, tx bun.Tx, entity ...*T) error

	// BulkInsertWithTx inserts entities with a conflict policy within an
	// existing transaction.
	BulkInsertWithTx(ctx context.Context, tx bun.Tx, entities []*T, opts ...repository.InsertOption) ([]*T, error)

	// UpdateWithTx updates an entity within a transaction.
	UpdateWithTx(ctx context.Context, tx bun.Tx, entity *T) error

	// DeleteWithTx removes an entity by primary key within a transaction.
	DeleteWithTx(ctx context.Context, tx bun.Tx, pk any) error

	// SelectBuilder returns a Bun select query builder for the entity.
	SelectBuilder() *bun.SelectQuery

	// InsertBuilder returns a Bun insert query builder for the entity.
	InsertBuilder() *bun.InsertQuery

	// UpdateBuilder returns a Bun update query builder for the entity.
	UpdateBuilder() *bun.UpdateQuery

	// DeleteBuilder returns a Bun delete query builder for the entity.
	DeleteBuilder() *bun.DeleteQuery
}

type baseServiceImpl[T any] struct {
	repo repository.Repository[T]
	once sync.Once
}

// NewService returns a default Service implementation using the generic
// repository backed by the global database connection.
func NewService[T any]() Service[T] {
	return &baseServiceImpl[T]{}
}

func (s *baseServiceImpl[T]) baseRepo() repository.Repository[T] {
	s.once.Do(func() { s.repo = repository.NewRepository[T](database.GetDB()) })
	return s.repo
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, pk any) (*T, error) {
	return s.baseRepo().Get(ctx, pk)
}

func (s *baseServiceImpl[T]) First(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	return s.baseRepo().First(ctx, filter)
}

func (s *baseServiceImpl[T]) FindBy(ctx context.Context, criteria map[string]any) (*T, error) {
	return s.baseRepo().FindBy(ctx, criteria)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	return s.baseRepo().All(ctx)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return s.baseRepo().List(ctx, filter)
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return s.baseRepo().Query(ctx, query, args...)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	return s.baseRepo().Count(ctx, filter)
}

func (s *baseServiceImpl[T]) Exists(ctx context.Context, filter *types.QueryFilter) (bool, error) {
	return s.baseRepo().Exists(ctx, filter)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.baseRepo().Page(ctx, page)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, entity ...*T) error {
	return s.baseRepo().Save(ctx, entity...)
}

func (s *baseServiceImpl[T]) BulkInsert(ctx context.Context, entities []*T, opts ...repository.InsertOption) ([]*T, error) {
	return s.baseRepo().BulkInsert(ctx, entities, opts...)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, entity *T) error {
	return s.baseRepo().Update(ctx, entity)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, entity *T) error {
	return s.baseRepo().Delete(ctx, entity)
}

func (s *baseServiceImpl[T]) DeleteByPK(ctx context.Context, pk any) error {
	return s.baseRepo().DeleteByPK(ctx, pk)
}

func (s *baseServiceImpl[T]) LastModified(ctx context.Context) (*T, error) {
	return s.baseRepo().LastModified(ctx)
}

func (s *baseServiceImpl[T]) LastCreated(ctx context.Context) (*T, error) {
	return s.baseRepo().LastCreated(ctx)
}

func (s *baseServiceImpl[T]) FirstCreated(ctx context.Context) (*T, error) {
	return s.baseRepo().FirstCreated(ctx)
}

func (s *baseServiceImpl[T]) ModifiedSince(ctx context.Context, since time.Time) ([]*T, error) {
	return s.baseRepo().ModifiedSince(ctx, since)
}

func (s *baseServiceImpl[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.baseRepo().RunInTx(ctx, fn)
}

func (s *baseServiceImpl[T]) SaveWithTx(ctx context.Context, tx bun.Tx, entity ...*T) error {
	return s.baseRepo().SaveWithTx(ctx, tx, entity...)
}

func (s *baseServiceImpl[T]) BulkInsertWithTx(ctx context.Context, tx bun.Tx, entities []*T, opts ...repository.InsertOption) ([]*T, error) {
	return s.baseRepo().BulkInsertWithTx(ctx, tx, entities, opts...)
}

func (s *baseServiceImpl[T]) UpdateWithTx(ctx context.Context, tx bun.Tx, entity *T) error {
	return s.baseRepo().UpdateWithTx(ctx, tx, entity)
}

func (s *baseServiceImpl[T]) DeleteWithTx(ctx context.Context, tx bun.Tx, pk any) error {
	return s.baseRepo().DeleteWithTx(ctx, tx, pk)
}

func (s *baseServiceImpl[T]) SelectBuilder() *bun.SelectQuery {
	return s.baseRepo().NewSelect()
}

func (s *baseServiceImpl[T]) InsertBuilder() *bun.InsertQuery {
	return s.baseRepo().NewInsert()
}

func (s *baseServiceImpl[T]) UpdateBuilder() *bun.UpdateQuery {
	return s.baseRepo().NewUpdate()
}

func (s *baseServiceImpl[T]) DeleteBuilder() *bun.DeleteQuery {
	return s.baseRepo().NewDelete()
}
