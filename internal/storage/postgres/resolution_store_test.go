package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/snapbooks-app/geticon/internal/icon"
)

func sampleRecord() icon.ResolutionRecord {
	return icon.ResolutionRecord{
		ID:             "0192b7a0-0000-7000-8000-000000000001",
		ResolvedAt:     time.Unix(1700000000, 0).UTC(),
		SiteURL:        "https://example.com",
		RequestedSize:  64,
		IconURL:        "https://example.com/favicon.ico",
		IconKind:       icon.KindFaviconFile,
		IconFormat:     icon.FormatICO,
		IconBytes:      1150,
		ContentHash:    "abc123",
		BlobURI:        "gs://bucket/icons/example.com/abc123.ico",
		CandidateCount: 4,
	}
}

func TestInsertResolutionInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResolutionStoreWithPool(mock, "")
	require.NoError(t, err)

	rec := sampleRecord()
	blob := rec.BlobURI
	mock.ExpectExec("INSERT INTO icon_resolutions").
		WithArgs(
			rec.ID,
			rec.ResolvedAt,
			rec.SiteURL,
			rec.RequestedSize,
			rec.IconURL,
			"favicon-file",
			"ico",
			rec.IconBytes,
			rec.ContentHash,
			&blob,
			rec.CandidateCount,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertResolution(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResolutionWithoutBlobWritesNull(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResolutionStoreWithPool(mock, "resolutions_v2")
	require.NoError(t, err)

	rec := sampleRecord()
	rec.BlobURI = ""
	mock.ExpectExec("INSERT INTO resolutions_v2").
		WithArgs(
			rec.ID, rec.ResolvedAt, rec.SiteURL, rec.RequestedSize, rec.IconURL,
			"favicon-file", "ico", rec.IconBytes, rec.ContentHash, (*string)(nil), rec.CandidateCount,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertResolution(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResolutionPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResolutionStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO icon_resolutions").WillReturnError(errors.New("connection reset"))
	err = store.InsertResolution(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "insert resolution")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResolutionRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResolutionStoreWithPool(mock, "")
	require.NoError(t, err)
	rec := sampleRecord()
	rec.ID = ""
	require.Error(t, store.InsertResolution(context.Background(), rec))
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewResolutionStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewResolutionStoreWithPool(mock, "drop table;")
	require.Error(t, err)

	_, err = NewResolutionStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewResolutionStore(context.Background(), Config{DSN: "postgres://localhost/x", Table: "bad-name"})
	require.Error(t, err)
}

func TestCloseNilSafe(t *testing.T) {
	t.Parallel()

	var store *ResolutionStore
	store.Close()
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResolutionStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
