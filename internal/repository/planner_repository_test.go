package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlannerRepositoryIsPlanner(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPlannerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM planners WHERE user_email = $1 AND center_name = $2)")).
		WithArgs("a@example.org", "Mahi").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.IsPlanner(context.Background(), "a@example.org", "Mahi")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlannerRepositoryCentersFor(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPlannerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT center_name FROM planners WHERE user_email = $1")).
		WithArgs("a@example.org").
		WillReturnRows(sqlmock.NewRows([]string{"center_name"}).AddRow("Mahi").AddRow("Pajjota"))

	names, err := repo.CentersFor(context.Background(), "a@example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"Mahi", "Pajjota"}, names)
	require.NoError(t, mock.ExpectationsWereMet())
}
