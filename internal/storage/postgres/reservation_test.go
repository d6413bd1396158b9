package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, zap.NewNop()), mock
}

func expectStatusLookup(mock sqlmock.Sqlmock, abbr string, id int32) {
	mock.ExpectQuery(`SELECT id FROM statuses WHERE abbreviation = \$1`).
		WithArgs(abbr).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func verify(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestReserveForSubmissionWins(t *testing.T) {
	s, mock := newMockStore(t)
	expectStatusLookup(mock, "NEW", 1)
	mock.ExpectExec(`UPDATE orders SET trade_order_id = -id`).
		WithArgs(int64(7), int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.ReserveForSubmission(context.Background(), 7)
	if err != nil {
		t.Fatalf("ReserveForSubmission: %v", err)
	}
	if !ok {
		t.Error("expected reservation win on 1 affected row")
	}
	verify(t, mock)
}

func TestReserveForSubmissionLoses(t *testing.T) {
	s, mock := newMockStore(t)
	expectStatusLookup(mock, "NEW", 1)
	mock.ExpectExec(`UPDATE orders SET trade_order_id = -id`).
		WithArgs(int64(7), int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ReserveForSubmission(context.Background(), 7)
	if err != nil {
		t.Fatalf("ReserveForSubmission: %v", err)
	}
	if ok {
		t.Error("expected reservation loss on 0 affected rows")
	}
	verify(t, mock)
}

func TestStatusIDCached(t *testing.T) {
	s, mock := newMockStore(t)
	// One lookup serves both reservations.
	expectStatusLookup(mock, "NEW", 1)
	mock.ExpectExec(`UPDATE orders SET trade_order_id = -id`).
		WithArgs(int64(1), int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET trade_order_id = -id`).
		WithArgs(int64(2), int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if _, err := s.ReserveForSubmission(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReserveForSubmission(ctx, 2); err != nil {
		t.Fatal(err)
	}
	verify(t, mock)
}

func TestCommitSubmission(t *testing.T) {
	s, mock := newMockStore(t)
	expectStatusLookup(mock, "SENT", 2)
	mock.ExpectExec(`UPDATE orders SET trade_order_id = \$2, status_id = \$3, version = version \+ 1`).
		WithArgs(int64(7), int64(9001), int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.CommitSubmission(context.Background(), 7, 9001)
	if err != nil {
		t.Fatalf("CommitSubmission: %v", err)
	}
	if !ok {
		t.Error("expected commit to succeed")
	}
	verify(t, mock)
}

func TestCommitSubmissionMissedReservation(t *testing.T) {
	s, mock := newMockStore(t)
	expectStatusLookup(mock, "SENT", 2)
	mock.ExpectExec(`UPDATE orders SET trade_order_id = \$2, status_id = \$3`).
		WithArgs(int64(7), int64(9001), int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.CommitSubmission(context.Background(), 7, 9001)
	if err != nil {
		t.Fatalf("CommitSubmission: %v", err)
	}
	if ok {
		t.Error("commit must report false when the sentinel is gone")
	}
	verify(t, mock)
}

func TestReleaseReservation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE orders SET trade_order_id = NULL`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ReleaseReservation(context.Background(), 7)
	if err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}
	if ok {
		t.Error("release of an unreserved order must report false, not error")
	}
	verify(t, mock)
}

func TestReserveOrdersTransactional(t *testing.T) {
	s, mock := newMockStore(t)
	expectStatusLookup(mock, "NEW", 1)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET trade_order_id = -id`).
		WithArgs(int64(1), int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET trade_order_id = -id`).
		WithArgs(int64(2), int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE orders SET trade_order_id = -id`).
		WithArgs(int64(3), int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.ReserveOrders(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("ReserveOrders: %v", err)
	}
	want := []bool{true, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("outcome[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	verify(t, mock)
}

func TestReleaseReservationsCountsRepairs(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET trade_order_id = NULL`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET trade_order_id = NULL`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := s.ReleaseReservations(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("ReleaseReservations: %v", err)
	}
	if n != 1 {
		t.Errorf("released = %d, want 1", n)
	}
	verify(t, mock)
}

func TestReconcileSubmissions(t *testing.T) {
	s, mock := newMockStore(t)
	expectStatusLookup(mock, "SENT", 2)
	mock.ExpectBegin()
	// Success outcome commits.
	mock.ExpectExec(`UPDATE orders SET trade_order_id = \$2, status_id = \$3`).
		WithArgs(int64(1), int64(9001), int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Failure outcome releases; already repaired elsewhere.
	mock.ExpectExec(`UPDATE orders SET trade_order_id = NULL`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Success outcome whose sentinel vanished: commit missed.
	mock.ExpectExec(`UPDATE orders SET trade_order_id = \$2, status_id = \$3`).
		WithArgs(int64(3), int64(9002), int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tid1, tid3 := int64(9001), int64(9002)
	results, err := s.ReconcileSubmissions(context.Background(), []storage.SubmissionOutcome{
		{OrderID: 1, TradeOrderID: &tid1},
		{OrderID: 2},
		{OrderID: 3, TradeOrderID: &tid3},
	})
	if err != nil {
		t.Fatalf("ReconcileSubmissions: %v", err)
	}
	if !results[0].Committed || results[0].CommitMissed {
		t.Errorf("results[0] = %+v, want committed", results[0])
	}
	if results[1].Released {
		t.Errorf("results[1] = %+v, want released=false after external repair", results[1])
	}
	if !results[2].CommitMissed {
		t.Errorf("results[2] = %+v, want commit missed", results[2])
	}
	verify(t, mock)
}
