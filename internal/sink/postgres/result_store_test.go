package postgres

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/humancrawl/internal/crawler"
	"github.com/JakeFAU/humancrawl/internal/detector"
)

func TestSaveInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	store.newID = func() string { return "0190f1c8-0000-7000-8000-000000000001" }

	now := time.Unix(1700000000, 0).UTC()
	res := crawler.Result{
		Success:     false,
		URL:         "https://example.com/a",
		Status:      http.StatusForbidden,
		Headers:     http.Header{"Cf-Ray": {"abc"}},
		Error:       "non-success status: 403",
		Protection:  &detector.Detection{System: detector.Cloudflare, Confidence: 0.95},
		Metrics:     crawler.ResultMetrics{DurationMs: 120, SizeBytes: 512},
		ContentHash: "abc123",
		SessionID:   "session-1",
		FetchedAt:   now,
	}

	mock.ExpectExec("INSERT INTO crawl_results").
		WithArgs(
			"0190f1c8-0000-7000-8000-000000000001",
			"session-1",
			"https://example.com/a",
			false,
			http.StatusForbidden,
			"non-success status: 403",
			"cloudflare",
			0.95,
			int64(120),
			512,
			"abc123",
			[]byte(`{"Cf-Ray":["abc"]}`),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "results")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO results").WillReturnError(errors.New("db down"))
	err = store.Save(context.Background(), crawler.Result{URL: "https://x.test"})
	require.ErrorContains(t, err, "insert result")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "crawl_results")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_results").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "x")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "drop table;")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
