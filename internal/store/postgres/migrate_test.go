package postgres

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
)

type fakeMigrator struct {
	upErr, downErr     error
	srcErr, dbErr      error
	upCalls, downCalls int
	closed             bool
}

func (f *fakeMigrator) Up() error   { f.upCalls++; return f.upErr }
func (f *fakeMigrator) Down() error { f.downCalls++; return f.downErr }
func (f *fakeMigrator) Close() (error, error) {
	f.closed = true
	return f.srcErr, f.dbErr
}

func engineFor(m *fakeMigrator) MigrationEngine {
	return func(string) (Migrator, error) { return m, nil }
}

func TestMigrateUp_Success(t *testing.T) {
	m := &fakeMigrator{}

	assert.NoError(t, MigrateUp("postgres://x", engineFor(m)))
	assert.Equal(t, 1, m.upCalls)
	assert.True(t, m.closed)
}

func TestMigrateUp_NoChange(t *testing.T) {
	m := &fakeMigrator{upErr: migrate.ErrNoChange}

	assert.NoError(t, MigrateUp("postgres://x", engineFor(m)))
}

func TestMigrateUp_Failure(t *testing.T) {
	m := &fakeMigrator{upErr: errors.New("dirty database version 1")}

	err := MigrateUp("postgres://x", engineFor(m))
	assert.ErrorContains(t, err, "dirty database version 1")
	assert.True(t, m.closed)
}

func TestMigrateDown(t *testing.T) {
	m := &fakeMigrator{}

	assert.NoError(t, MigrateDown("postgres://x", engineFor(m)))
	assert.Equal(t, 1, m.downCalls)
	assert.Zero(t, m.upCalls)
}

func TestMigrate_EngineError(t *testing.T) {
	engine := func(string) (Migrator, error) { return nil, errors.New("connection refused") }

	err := MigrateUp("postgres://x", engine)
	assert.ErrorContains(t, err, "connection refused")
}

func TestMigrate_CloseErrorsAreReported(t *testing.T) {
	m := &fakeMigrator{dbErr: errors.New("close db")}

	err := MigrateUp("postgres://x", engineFor(m))
	assert.ErrorContains(t, err, "migration database error: close db")
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")
}
