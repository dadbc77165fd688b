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
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/bunkit/bunkit/model"
	"github.com/bunkit/bunkit/types"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`
	model.Model

	Title  string `bun:"title,notnull,unique" json:"title"`
	Author string `bun:"author" json:"author"`
	Pages  int    `bun:"pages" json:"pages"`
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxIdleConns(2)
	sqldb.SetConnMaxLifetime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = db.NewCreateTable().Model((*Book)(nil)).Exec(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newBookRepo(t *testing.T) Repository[Book] {
	return NewRepository[Book](newTestDB(t))
}

func TestSaveAndGet(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	book := &Book{Title: "The Go Programming Language", Author: "Donovan", Pages: 380}
	require.NoError(t, repo.Save(ctx, book))
	assert.NotEqual(t, uuid.Nil, book.ID)
	assert.False(t, book.CreatedAt.IsZero())

	got, err := repo.Get(ctx, book.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, book.ID, got.ID)
	assert.Equal(t, "The Go Programming Language", got.Title)
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := newBookRepo(t)

	got, err := repo.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFirstAndFindBy(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx,
		&Book{Title: "A", Author: "x", Pages: 100},
		&Book{Title: "B", Author: "x", Pages: 200},
	))

	first, err := repo.First(ctx, &types.QueryFilter{Schema: "author = ?", Args: []interface{}{"x"}})
	require.NoError(t, err)
	require.NotNil(t, first)

	found, err := repo.FindBy(ctx, map[string]any{"author": "x", "pages": 200})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "B", found.Title)

	missing, err := repo.FindBy(ctx, map[string]any{"author": "nobody"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListCountExists(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx,
		&Book{Title: "A", Author: "x", Pages: 100},
		&Book{Title: "B", Author: "y", Pages: 200},
		&Book{Title: "C", Author: "y", Pages: 300},
	))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filter := &types.QueryFilter{Schema: "author = ?", Args: []interface{}{"y"}}
	list, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := repo.Count(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	exists, err := repo.Exists(ctx, &types.QueryFilter{Schema: "pages > ?", Args: []interface{}{250}})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, &types.QueryFilter{Schema: "pages > ?", Args: []interface{}{1000}})
	require.NoError(t, err)
	assert.False(t, exists)

	rows, err := repo.Query(ctx, "pages >= ?", 200)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpdateAndDelete(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	book := &Book{Title: "A", Author: "x"}
	require.NoError(t, repo.Save(ctx, book))

	book.Author = "z"
	require.NoError(t, repo.Update(ctx, book))

	got, err := repo.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "z", got.Author)

	require.NoError(t, repo.Delete(ctx, book))
	got, err = repo.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteByPK(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	book := &Book{Title: "A"}
	require.NoError(t, repo.Save(ctx, book))
	require.NoError(t, repo.DeleteByPK(ctx, book.ID))

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestBulkInsertEmpty(t *testing.T) {
	repo := newBookRepo(t)

	inserted, err := repo.BulkInsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, inserted)
}

func TestBulkInsertFail(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	inserted, err := repo.BulkInsert(ctx, []*Book{
		{Title: "A"},
		{Title: "B"},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotEqual(t, uuid.Nil, inserted[0].ID)

	// default policy surfaces the unique violation
	_, err = repo.BulkInsert(ctx, []*Book{{Title: "A"}})
	require.Error(t, err)
}

func TestBulkInsertNothing(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Book{Title: "A", Author: "old"}))

	_, err := repo.BulkInsert(ctx, []*Book{
		{Title: "A", Author: "new"},
		{Title: "B"},
	}, OnConflict(ConflictNothing), ConflictColumns("title"))
	require.NoError(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	kept, err := repo.FindBy(ctx, map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "old", kept.Author)
}

func TestBulkInsertUpdate(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Book{Title: "A", Author: "old", Pages: 1}))

	_, err := repo.BulkInsert(ctx, []*Book{
		{Title: "A", Author: "new", Pages: 2},
		{Title: "B", Author: "other"},
	}, OnConflict(ConflictUpdate), ConflictColumns("title"))
	require.NoError(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	updated, err := repo.FindBy(ctx, map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "new", updated.Author)
	assert.Equal(t, 2, updated.Pages)
}

func TestBulkInsertNothingWithoutTarget(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Book{Title: "A", Author: "old"}))

	_, err := repo.BulkInsert(ctx, []*Book{
		{Title: "A", Author: "new"},
		{Title: "B"},
	}, OnConflict(ConflictNothing))
	require.NoError(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	kept, err := repo.FindBy(ctx, map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "old", kept.Author)
}

// A MySQL-flavored repository: the ON DUPLICATE KEY paths reject per-column
// conflict targets before any statement runs, so no live server is needed.
func newMySQLFlavorRepo(t *testing.T) Repository[Book] {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	db := bun.NewDB(sqldb, mysqldialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository[Book](db)
}

func TestBulkInsertConflictColumnsUnsupportedOnMySQL(t *testing.T) {
	repo := newMySQLFlavorRepo(t)
	ctx := context.Background()

	_, err := repo.BulkInsert(ctx, []*Book{{Title: "A"}},
		OnConflict(ConflictUpdate), ConflictColumns("title"))
	require.ErrorIs(t, err, ErrConflictUnsupported)

	_, err = repo.BulkInsert(ctx, []*Book{{Title: "A"}},
		OnConflict(ConflictNothing), ConflictColumns("title"))
	require.ErrorIs(t, err, ErrConflictUnsupported)
}

func TestUpsertFallback(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository[Book](db).(*baseRepositoryImpl[Book])
	ctx := context.Background()

	existing := &Book{Title: "A", Author: "old"}
	require.NoError(t, repo.Save(ctx, existing))

	existing.Author = "new"
	fresh := &Book{Title: "B"}
	_, err := repo.upsertFallback(ctx, db, []*Book{existing, fresh})
	require.NoError(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := repo.FindBy(ctx, map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Author)
}

func TestBulkInsertUpdateColumnSubset(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Book{Title: "A", Author: "old", Pages: 1}))

	_, err := repo.BulkInsert(ctx, []*Book{
		{Title: "A", Author: "new", Pages: 2},
	}, OnConflict(ConflictUpdate), ConflictColumns("title"), UpdateColumns("pages"))
	require.NoError(t, err)

	got, err := repo.FindBy(ctx, map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "old", got.Author)
	assert.Equal(t, 2, got.Pages)
}

func TestPage(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Save(ctx, &Book{Title: fmt.Sprintf("book-%d", i), Pages: i * 10}))
	}

	page, err := repo.Page(ctx, types.NewPageRequestWithOrders(2, 2, []string{"pages ASC"}))
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 30, page.Items[0].Pages)
	assert.Equal(t, 40, page.Items[1].Pages)
}

func TestPageEmpty(t *testing.T) {
	repo := newBookRepo(t)

	page, err := repo.Page(context.Background(), types.NewDefaultPageRequest(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Items)
}

func TestTrackedQueries(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	old := &Book{Title: "old"}
	old.CreatedAt = base
	old.UpdatedAt = base
	recent := &Book{Title: "recent"}
	recent.CreatedAt = base.Add(time.Hour)
	recent.UpdatedAt = base.Add(2 * time.Hour)
	require.NoError(t, repo.Save(ctx, old, recent))

	lastCreated, err := repo.LastCreated(ctx)
	require.NoError(t, err)
	assert.Equal(t, "recent", lastCreated.Title)

	firstCreated, err := repo.FirstCreated(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", firstCreated.Title)

	lastModified, err := repo.LastModified(ctx)
	require.NoError(t, err)
	assert.Equal(t, "recent", lastModified.Title)

	modified, err := repo.ModifiedSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, modified, 1)
	assert.Equal(t, "recent", modified[0].Title)
}

func TestRunInTxCommit(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	err := repo.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.SaveWithTx(ctx, tx, &Book{Title: "A"}); err != nil {
			return err
		}
		return repo.SaveWithTx(ctx, tx, &Book{Title: "B"})
	})
	require.NoError(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunInTxRollback(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	err := repo.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.SaveWithTx(ctx, tx, &Book{Title: "A"}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestWithTxView(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	err := repo.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		view := repo.WithTx(tx)
		if err := view.Save(ctx, &Book{Title: "A", Author: "x"}); err != nil {
			return err
		}
		// reads through the view observe uncommitted writes
		found, err := view.FindBy(ctx, map[string]any{"title": "A"})
		if err != nil {
			return err
		}
		if found == nil {
			return fmt.Errorf("expected row visible inside transaction")
		}
		found.Author = "y"
		return view.Update(ctx, found)
	})
	require.NoError(t, err)

	got, err := repo.FindBy(ctx, map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "y", got.Author)
}

func TestBulkInsertWithTx(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Book{Title: "A", Author: "old"}))

	err := repo.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.BulkInsertWithTx(ctx, tx, []*Book{
			{Title: "A", Author: "new"},
			{Title: "B"},
		}, OnConflict(ConflictUpdate), ConflictColumns("title"))
		return err
	})
	require.NoError(t, err)

	got, err := repo.FindBy(ctx, map[string]any{"title": "A"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Author)
}

func TestUpdateDeleteWithTx(t *testing.T) {
	repo := newBookRepo(t)
	ctx := context.Background()

	a := &Book{Title: "A", Author: "x"}
	b := &Book{Title: "B"}
	require.NoError(t, repo.Save(ctx, a, b))

	err := repo.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a.Author = "y"
		if err := repo.UpdateWithTx(ctx, tx, a); err != nil {
			return err
		}
		return repo.DeleteWithTx(ctx, tx, b.ID)
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "y", got.Author)

	gone, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
