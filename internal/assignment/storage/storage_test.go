package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var respondentColumns = []string{
	"id", "survey_id", "zone_name", "state", "assigned_to", "assigned_at",
	"contact_name", "contact_phone", "created_at",
}

func newTestStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStorage(sqlx.NewDb(db, "postgres"), logger, time.Second), mock
}

func TestStorage_ClaimPending(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("pending record is claimed", func(t *testing.T) {
		store, mock := newTestStorage(t)

		rows := sqlmock.NewRows(respondentColumns).
			AddRow("r-1", "s-1", "Zone A", domain.StateAssigned, "caller-1", at, "Asha", "+910000000001", at.Add(-time.Hour))

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE cati_respondents")).
			WithArgs(domain.StateAssigned, "caller-1", at, "r-1", domain.StatePending).
			WillReturnRows(rows)

		r, err := store.ClaimPending(ctx, "r-1", "caller-1", at)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "r-1", r.ID)
		assert.Equal(t, "Zone A", r.ZoneName)
		require.NotNil(t, r.AssignedTo)
		assert.Equal(t, "caller-1", *r.AssignedTo)
		assert.Equal(t, "+910000000001", r.ContactPhone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("record no longer pending loses the race", func(t *testing.T) {
		store, mock := newTestStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE cati_respondents")).
			WithArgs(domain.StateAssigned, "caller-2", at, "r-1", domain.StatePending).
			WillReturnRows(sqlmock.NewRows(respondentColumns))

		r, err := store.ClaimPending(ctx, "r-1", "caller-2", at)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, domain.ErrLostRace)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver failure is a store failure", func(t *testing.T) {
		store, mock := newTestStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE cati_respondents")).
			WillReturnError(errors.New("connection refused"))

		r, err := store.ClaimPending(ctx, "r-1", "caller-1", at)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, domain.ErrLostRace)
	})
}

func TestStorage_ListPending(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ids in query order", func(t *testing.T) {
		store, mock := newTestStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC, id ASC")).
			WithArgs("s-1", "Zone A", domain.StatePending, sqlmock.AnyArg(), 3).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-1").AddRow("r-2").AddRow("r-3"))

		ids, err := store.ListPending(ctx, "s-1", "Zone A", 3, []string{"r-9"})
		require.NoError(t, err)
		assert.Equal(t, []string{"r-1", "r-2", "r-3"}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil exclusions are sent as an empty array", func(t *testing.T) {
		store, mock := newTestStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
			WithArgs("s-1", "Zone A", domain.StatePending, "{}", 10).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		ids, err := store.ListPending(ctx, "s-1", "Zone A", 10, nil)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		store, mock := newTestStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).WillReturnError(errors.New("timeout"))

		_, err := store.ListPending(ctx, "s-1", "Zone A", 10, nil)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

func TestStorage_ReclaimExpired(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	t.Run("all surveys", func(t *testing.T) {
		store, mock := newTestStorage(t)

		rows := sqlmock.NewRows([]string{"id", "survey_id", "zone_name"}).
			AddRow("r-1", "s-1", "Zone A").
			AddRow("r-2", "s-2", "Zone B")

		mock.ExpectQuery(regexp.QuoteMeta("assigned_to = NULL")).
			WithArgs(domain.StatePending, domain.StateAssigned, cutoff, "").
			WillReturnRows(rows)

		reclaimed, err := store.ReclaimExpired(ctx, cutoff, "")
		require.NoError(t, err)
		require.Len(t, reclaimed, 2)
		assert.Equal(t, domain.ReclaimedRespondent{ID: "r-2", SurveyID: "s-2", ZoneName: "Zone B"}, reclaimed[1])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scoped to one survey", func(t *testing.T) {
		store, mock := newTestStorage(t)

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE cati_respondents")).
			WithArgs(domain.StatePending, domain.StateAssigned, cutoff, "s-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "survey_id", "zone_name"}))

		reclaimed, err := store.ReclaimExpired(ctx, cutoff, "s-1")
		require.NoError(t, err)
		assert.Empty(t, reclaimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_DriverErrorStaysInChain(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "postgres error",
			err:  &pq.Error{Code: "42703", Message: "column does not exist"},
			check: func(t *testing.T, err error) {
				var pqErr *pq.Error
				require.ErrorAs(t, err, &pqErr)
				assert.Equal(t, pq.ErrorCode("42703"), pqErr.Code)
			},
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newTestStorage(t)

			mock.ExpectQuery(regexp.QuoteMeta("UPDATE cati_respondents")).WillReturnError(tt.err)
			_, err := store.ClaimPending(ctx, "r-1", "caller-1", time.Now())
			assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
			tt.check(t, err)

			mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT zone_name")).WillReturnError(tt.err)
			_, err = store.PendingZones(ctx, "s-1")
			assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
			tt.check(t, err)
		})
	}
}

func TestStorage_PendingZonesAndSurveys(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT zone_name")).
		WithArgs("s-1", domain.StatePending).
		WillReturnRows(sqlmock.NewRows([]string{"zone_name"}).AddRow("Zone A").AddRow("Zone B"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT survey_id")).
		WithArgs(domain.StatePending).
		WillReturnRows(sqlmock.NewRows([]string{"survey_id"}).AddRow("s-1"))

	zones, err := store.PendingZones(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Zone A", "Zone B"}, zones)

	surveys, err := store.ActiveSurveys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, surveys)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetRespondentByID(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM cati_respondents")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(respondentColumns))

	r, err := store.GetRespondentByID(ctx, "missing")
	assert.Nil(t, r)
	assert.ErrorIs(t, err, domain.ErrRespondentNotFound)
}
