package journal_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/journal"
)

func TestCheckRetention(t *testing.T) {
	assert.NoError(t, journal.CheckRetention(0))
	assert.NoError(t, journal.CheckRetention(30*24*time.Hour))
	assert.Error(t, journal.CheckRetention(time.Hour))
}

func TestPurgeBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM alarm_journal WHERE emitted_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := journal.NewService(db, nil).PurgeBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeBefore_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM alarm_journal").WillReturnError(sql.ErrConnDone)
	_, err = journal.NewService(db, nil).PurgeBefore(context.Background(), time.Now())
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
