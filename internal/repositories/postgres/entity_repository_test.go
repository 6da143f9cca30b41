package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/arkova/substrate/internal/entities"
	"github.com/arkova/substrate/internal/repositories"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntityFixture() (*entities.Entity, *entities.Activity) {
	e := &entities.Entity{
		ID:        "0190a8f0-0000-7000-8000-000000000001",
		TypeID:    "0190a8f0-0000-7000-8000-00000000000t",
		Name:      "server-01",
		Metadata:  entities.Metadata{"tenantId": "acme"},
		CreatedBy: "user-1",
		CreatedAt: time.Now().UTC(),
	}
	e.Materialize()

	act := entities.NewActivity(entities.ChangeTypeCreate, "user-1")
	act.EntityID = e.ID
	act.TypeID = e.TypeID
	act.NewValue = entities.Snapshot(e)
	return e, act
}

func TestPostgresEntityRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresEntityRepository(db)
	entity, activity := newEntityFixture()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.Create(context.Background(), entity, activity)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEntityRepository_Create_DuplicateKeyRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresEntityRepository(db)
	entity, activity := newEntityFixture()

	// The storage constraint settles the race: the losing insert surfaces
	// a unique violation and no activity is written in this transaction.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entities").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err = repo.Create(context.Background(), entity, activity)
	assert.True(t, errors.Is(err, entities.ErrDuplicateEntry), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEntityRepository_Update_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresEntityRepository(db)
	entity, activity := newEntityFixture()
	entity.UpdatedBy = "user-1"
	entity.UpdatedAt = time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE entities").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = repo.Update(context.Background(), entity, activity)
	assert.True(t, errors.Is(err, entities.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEntityRepository_Delete_WritesActivityChain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresEntityRepository(db)

	parent := entities.NewActivity(entities.ChangeTypeDelete, "user-1")
	parent.EntityID = "e1"
	child := parent.Child(entities.ChangeTypeUnlink)
	child.EntityID = "e1"

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM entities").
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.Delete(context.Background(), "e1", []*entities.Activity{parent, child})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEntityRepository_Query_FilterBuilding(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresEntityRepository(db)
	now := time.Now().UTC()

	cols := []string{
		"id", "parent_entity_id", "type_id", "name", "metadata", "tenant_id",
		"created_by", "created_at", "updated_by", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM entities").
		WithArgs("type-1", "srv").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", nil, "type-1", "server-01", "{}", nil, "user-1", now, nil, nil))

	result, err := repo.Query(context.Background(), &repositories.EntityFilter{
		TypeID:       "type-1",
		NameContains: "srv",
	})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "server-01", result[0].Name)
	assert.Empty(t, result[0].ParentEntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEntityRepository_Query_EscapesLikeWildcards(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresEntityRepository(db)

	cols := []string{
		"id", "parent_entity_id", "type_id", "name", "metadata", "tenant_id",
		"created_by", "created_at", "updated_by", "updated_at",
	}
	// Filter input containing LIKE metacharacters must match literally,
	// not act as extra wildcards.
	mock.ExpectQuery("SELECT (.+) FROM entities").
		WithArgs(`50\%\_off`).
		WillReturnRows(sqlmock.NewRows(cols))

	result, err := repo.Query(context.Background(), &repositories.EntityFilter{
		NameContains: "50%_off",
	})
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEntityRepository_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresEntityRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM entities").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, entities.ErrNotFound), "got %v", err)
}
