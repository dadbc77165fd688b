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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func sqliteConfig() *ConnectionConfig {
	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = "file::memory:?cache=shared"
	cfg.HealthCheckInterval = 0
	return cfg
}

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig()
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 100, cfg.MaxOpenConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.True(t, cfg.EnableReconnect)
	assert.Equal(t, 3, cfg.MaxReconnectTries)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.yaml")
	content := `
connection:
  type: postgres
  host: db.internal
  port: 5432
  username: svc
  dbname: app
bootstrap:
  bootstrap_on_startup: true
seed:
  environment: dev
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Connection.Type)
	assert.Equal(t, "db.internal", cfg.Connection.Host)
	assert.Equal(t, 5432, cfg.Connection.Port)
	assert.True(t, cfg.Bootstrap.BootstrapOnStartup)
	assert.Equal(t, "dev", cfg.Seed.Environment)
	// defaults survive partial files
	assert.Equal(t, 100, cfg.Connection.MaxOpenConns)
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestManagerConnectSQLite(t *testing.T) {
	mgr := NewManager(sqliteConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Connect(ctx))
	defer func() { _ = mgr.Disconnect() }()

	require.NotNil(t, mgr.GetDB())
	require.NotNil(t, mgr.GetSQLDB())
	require.NoError(t, mgr.Ping(ctx))

	status := mgr.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)

	stats := mgr.GetStats()
	assert.GreaterOrEqual(t, stats.OpenConns, 0)
}

func TestManagerConnectUnsupportedType(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.Type = "oracle"
	mgr := NewManager(cfg)
	require.Error(t, mgr.Connect(context.Background()))
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	mgr := NewManager(sqliteConfig())
	require.NoError(t, mgr.Disconnect())
	require.Error(t, mgr.Ping(context.Background()))
}

func TestInitDBNilConfig(t *testing.T) {
	db, err := InitDB(nil)
	require.Error(t, err)
	assert.Nil(t, db)

	db, err = InitDBWithOptions(nil, false)
	require.Error(t, err)
	assert.Nil(t, db)
}

func TestFactoryValidation(t *testing.T) {
	f := NewFactory()

	_, err := f.CreateFromConfig(nil)
	require.Error(t, err)

	cfg := DefaultConnectionConfig()
	cfg.Type = "mongodb"
	_, err = f.CreateFromConfig(cfg)
	require.Error(t, err)
}

func TestFactoryEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override.internal")
	t.Setenv("DB_PORT", "15432")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")

	f := NewFactory()
	cfg := DefaultConnectionConfig()
	cfg.Type = "postgres"
	cfg.Host = "original"

	_, err := f.CreateFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "override.internal", cfg.Host)
	assert.Equal(t, 15432, cfg.Port)
	assert.Equal(t, 7, cfg.MaxOpenConns)
}

func TestFactoryLifecycle(t *testing.T) {
	f := NewFactory()
	_, err := f.CreateFromConfig(sqliteConfig())
	require.NoError(t, err)

	require.NoError(t, f.Initialize(context.Background(), false))
	defer func() { _ = f.Close() }()

	require.NotNil(t, f.GetDB())
	status := f.GetHealthStatus(context.Background())
	assert.True(t, status.Healthy)
}

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type gadget struct {
	bun.BaseModel `bun:"table:gadgets"`

	ID int64 `bun:"id,pk,autoincrement"`
}

func TestModelRegistryOrdering(t *testing.T) {
	reg := newModelRegistry()
	reg.Register(NewModelAdapter((*gadget)(nil), 20))
	reg.Register(NewModelAdapter((*widget)(nil), 10))

	models := reg.Models()
	require.Len(t, models, 2)
	assert.IsType(t, (*widget)(nil), models[0].Instance())
	assert.IsType(t, (*gadget)(nil), models[1].Instance())
}

func TestBootstrapCreatesTables(t *testing.T) {
	RegisterModel(NewModelAdapter((*widget)(nil), 1))

	mgr := NewManager(sqliteConfig())
	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))
	defer func() { _ = mgr.Disconnect() }()

	require.NoError(t, mgr.Bootstrap(ctx))
	// a second run is a no-op thanks to the revision table
	require.NoError(t, mgr.Bootstrap(ctx))

	db := mgr.GetDB()
	_, err := db.NewInsert().Model(&widget{Name: "w"}).Exec(ctx)
	require.NoError(t, err)

	count, err := db.NewSelect().Model((*Revision)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSeederRunsFilesInOrder(t *testing.T) {
	root := t.TempDir()
	commonDir := filepath.Join(root, "common")
	envDir := filepath.Join(root, "environments", "test")
	require.NoError(t, os.MkdirAll(commonDir, 0o755))
	require.NoError(t, os.MkdirAll(envDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(commonDir, "01_schema.sql"), []byte(`
-- base table
CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY, name TEXT);
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(envDir, "01_data.sql"), []byte(`
INSERT INTO items (name) VALUES ('one');
INSERT INTO items (name) VALUES ('{{.ENVIRONMENT}}');
`), 0o644))

	mgr := NewManager(sqliteConfig())
	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))
	defer func() { _ = mgr.Disconnect() }()

	seeder := NewSeeder(mgr.GetDB(), "test")
	seeder.SetRootPath(root)
	require.NoError(t, seeder.Run(ctx))

	var names []string
	err := mgr.GetDB().NewSelect().Table("items").Column("name").OrderExpr("id").Scan(ctx, &names)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "test"}, names)
}

func TestSeederEmptyRoot(t *testing.T) {
	mgr := NewManager(sqliteConfig())
	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))
	defer func() { _ = mgr.Disconnect() }()

	seeder := NewSeeder(mgr.GetDB(), "test")
	seeder.SetRootPath(t.TempDir())
	require.NoError(t, seeder.Run(ctx))
}

func TestSplitSQLStatements(t *testing.T) {
	statements := splitSQLStatements(`
-- comment
CREATE TABLE a (id INTEGER);

INSERT INTO a
  VALUES (1);
INSERT INTO a VALUES (2)
`)
	require.Len(t, statements, 3)
	assert.Equal(t, "CREATE TABLE a (id INTEGER);", statements[0])
	assert.Equal(t, "INSERT INTO a VALUES (1);", statements[1])
	assert.Equal(t, "INSERT INTO a VALUES (2)", statements[2])
}

func TestParseFileOrder(t *testing.T) {
	assert.Equal(t, 1, parseFileOrder("01_schema.sql"))
	assert.Equal(t, 12, parseFileOrder("12_data.sql"))
	assert.Equal(t, 999, parseFileOrder("schema.sql"))
}

func TestClassifySQLErrorMySQL(t *testing.T) {
	is, kind := ClassifySQLError(&mysql.MySQLError{Number: 1062, Message: "duplicate"})
	assert.True(t, is)
	assert.Equal(t, DuplicateKeyErr, kind)

	is, kind = ClassifySQLError(&mysql.MySQLError{Number: 1146, Message: "no table"})
	assert.True(t, is)
	assert.Equal(t, NoTableErr, kind)
}

func TestClassifySQLErrorByMessage(t *testing.T) {
	cases := []struct {
		err  error
		kind SQLError
	}{
		{errors.New("UNIQUE constraint failed: books.title"), DuplicateKeyErr},
		{errors.New("SQLSTATE 23505: duplicate key value violates unique constraint"), DuplicateKeyErr},
		{errors.New("no such table: books"), NoTableErr},
		{errors.New("no such column: title"), NoColumnErr},
		{errors.New("NOT NULL constraint failed: books.title"), NotNullViolationErr},
		{errors.New("FOREIGN KEY constraint failed"), ForeignKeyViolationErr},
	}
	for _, tc := range cases {
		is, kind := ClassifySQLError(tc.err)
		assert.True(t, is, tc.err.Error())
		assert.Equal(t, tc.kind, kind, tc.err.Error())
	}

	is, _ := ClassifySQLError(errors.New("something unrelated"))
	assert.False(t, is)
	assert.True(t, IsDuplicateKey(errors.New("unique constraint failed: x")))
	assert.False(t, IsDuplicateKey(nil))
}
