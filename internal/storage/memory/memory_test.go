package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/types"
)

func newOrder(t *testing.T, s *Store) *types.Order {
	t.Helper()
	o, err := s.CreateOrder(context.Background(), &types.OrderDraft{
		OrderTypeID: s.FirstOrderTypeID(),
		PortfolioID: "PORT-1",
		SecurityID:  "SEC-1",
		Quantity:    decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func TestCreateOrderDefaults(t *testing.T) {
	s := New()
	o := newOrder(t, s)

	if o.Status.Abbreviation != types.StatusNew {
		t.Errorf("status = %q, want NEW", o.Status.Abbreviation)
	}
	if o.Version != 1 {
		t.Errorf("version = %d, want 1", o.Version)
	}
	if o.TradeOrderID != nil {
		t.Errorf("TradeOrderID = %v, want nil", o.TradeOrderID)
	}
	if !o.Eligible() {
		t.Error("new order must be eligible for submission")
	}
}

func TestCreateOrderUnknownOrderType(t *testing.T) {
	s := New()
	_, err := s.CreateOrder(context.Background(), &types.OrderDraft{
		OrderTypeID: 999,
		PortfolioID: "PORT-1",
		SecurityID:  "SEC-1",
		Quantity:    decimal.NewFromInt(1),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReserveCommitLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newOrder(t, s)

	ok, err := s.ReserveForSubmission(ctx, o.ID)
	if err != nil || !ok {
		t.Fatalf("reserve = (%v, %v), want (true, nil)", ok, err)
	}

	// Reserved orders carry the negative sentinel and are no longer eligible.
	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TradeOrderID == nil || *got.TradeOrderID != -o.ID {
		t.Fatalf("TradeOrderID = %v, want %d", got.TradeOrderID, -o.ID)
	}
	if got.Eligible() {
		t.Error("reserved order must not be eligible")
	}

	ok, err = s.CommitSubmission(ctx, o.ID, 5001)
	if err != nil || !ok {
		t.Fatalf("commit = (%v, %v), want (true, nil)", ok, err)
	}

	got, err = s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TradeOrderID == nil || *got.TradeOrderID != 5001 {
		t.Errorf("TradeOrderID = %v, want 5001", got.TradeOrderID)
	}
	if got.Status.Abbreviation != types.StatusSent {
		t.Errorf("status = %q, want SENT", got.Status.Abbreviation)
	}
	if got.Version != o.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, o.Version+1)
	}
}

func TestReserveIsExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newOrder(t, s)

	if ok, _ := s.ReserveForSubmission(ctx, o.ID); !ok {
		t.Fatal("first reserve must win")
	}
	if ok, _ := s.ReserveForSubmission(ctx, o.ID); ok {
		t.Error("second reserve must lose")
	}
}

func TestReserveRejectsNonNewAndMissing(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newOrder(t, s)

	s.ReserveForSubmission(ctx, o.ID)
	s.CommitSubmission(ctx, o.ID, 7001)

	// SENT order: not eligible again.
	if ok, _ := s.ReserveForSubmission(ctx, o.ID); ok {
		t.Error("sent order must not be reservable")
	}
	if ok, _ := s.ReserveForSubmission(ctx, 404); ok {
		t.Error("missing order must not be reservable")
	}
}

func TestReleaseRestoresEligibility(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newOrder(t, s)

	s.ReserveForSubmission(ctx, o.ID)
	ok, err := s.ReleaseReservation(ctx, o.ID)
	if err != nil || !ok {
		t.Fatalf("release = (%v, %v), want (true, nil)", ok, err)
	}

	got, _ := s.GetOrder(ctx, o.ID)
	if !got.Eligible() {
		t.Error("released order must be eligible again")
	}
	if got.Version != o.Version {
		t.Errorf("release must not bump version: got %d, want %d", got.Version, o.Version)
	}

	// Releasing a non-reserved order is a no-op.
	if ok, _ := s.ReleaseReservation(ctx, o.ID); ok {
		t.Error("release of unreserved order must report false")
	}
}

func TestCommitRequiresReservation(t *testing.T) {
	s := New()
	o := newOrder(t, s)
	if ok, _ := s.CommitSubmission(context.Background(), o.ID, 5001); ok {
		t.Error("commit without reservation must fail")
	}
}

func TestReserveOrdersPositional(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := newOrder(t, s)
	b := newOrder(t, s)
	s.ReserveForSubmission(ctx, b.ID) // b already taken

	got, err := s.ReserveOrders(ctx, []int64{a.ID, b.ID, 404})
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ReserveOrders[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReleaseReservationsCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := newOrder(t, s)
	b := newOrder(t, s)
	s.ReserveForSubmission(ctx, a.ID)

	n, err := s.ReleaseReservations(ctx, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("released %d, want 1", n)
	}
}

func TestReconcileSubmissions(t *testing.T) {
	s := New()
	ctx := context.Background()
	success := newOrder(t, s)
	failure := newOrder(t, s)
	lost := newOrder(t, s) // never reserved; commit against it must miss
	s.ReserveForSubmission(ctx, success.ID)
	s.ReserveForSubmission(ctx, failure.ID)

	tid := int64(6001)
	badTid := int64(6002)
	results, err := s.ReconcileSubmissions(ctx, []storage.SubmissionOutcome{
		{OrderID: success.ID, TradeOrderID: &tid},
		{OrderID: failure.ID},
		{OrderID: lost.ID, TradeOrderID: &badTid},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !results[0].Committed || results[0].CommitMissed {
		t.Errorf("success outcome = %+v, want committed", results[0])
	}
	if !results[1].Released {
		t.Errorf("failure outcome = %+v, want released", results[1])
	}
	if !results[2].CommitMissed {
		t.Errorf("lost outcome = %+v, want commit missed", results[2])
	}

	got, _ := s.GetOrder(ctx, failure.ID)
	if !got.Eligible() {
		t.Error("failed submission must leave the order eligible for retry")
	}
}

func TestUpdateOrderOptimisticLock(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newOrder(t, s)

	o.SecurityID = "SEC-2"
	if err := s.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	// Stale version: the first update bumped it to 2.
	o.Version = 1
	if err := s.UpdateOrder(ctx, o); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestDeleteOrderVersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newOrder(t, s)

	if err := s.DeleteOrder(ctx, o.ID, 99); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if err := s.DeleteOrder(ctx, o.ID, o.Version); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if _, err := s.GetOrder(ctx, o.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestDeleteStatusReferenced(t *testing.T) {
	s := New()
	ctx := context.Background()
	newOrder(t, s) // holds the NEW status

	id := s.StatusIDByAbbr(types.StatusNew)
	st, err := s.GetStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteStatus(ctx, st.ID, st.Version); !errors.Is(err, storage.ErrReferenced) {
		t.Fatalf("err = %v, want ErrReferenced", err)
	}
}

func TestDeleteBlotterNullsOrders(t *testing.T) {
	s := New()
	ctx := context.Background()

	blotters, err := s.ListBlotters(ctx)
	if err != nil || len(blotters) == 0 {
		t.Fatalf("ListBlotters: %v", err)
	}
	b := blotters[0]

	o, err := s.CreateOrder(ctx, &types.OrderDraft{
		BlotterID:   &b.ID,
		OrderTypeID: s.FirstOrderTypeID(),
		PortfolioID: "PORT-1",
		SecurityID:  "SEC-1",
		Quantity:    decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if o.Blotter == nil {
		t.Fatal("order must carry its blotter")
	}

	if err := s.DeleteBlotter(ctx, b.ID, b.Version); err != nil {
		t.Fatalf("DeleteBlotter: %v", err)
	}
	got, _ := s.GetOrder(ctx, o.ID)
	if got.Blotter != nil {
		t.Error("deleting a blotter must null it out on referencing orders")
	}
}

func TestCreateStatusDuplicate(t *testing.T) {
	s := New()
	err := s.CreateStatus(context.Background(), &types.Status{Abbreviation: types.StatusNew})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}
