package types

import "testing"

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		successful, failed int
		want               BatchStatus
	}{
		{3, 0, BatchSuccess},
		{0, 3, BatchFailure},
		{2, 1, BatchPartial},
		{0, 0, BatchSuccess},
	}
	for _, tt := range tests {
		if got := AggregateStatus(tt.successful, tt.failed); got != tt.want {
			t.Errorf("AggregateStatus(%d, %d) = %q, want %q", tt.successful, tt.failed, got, tt.want)
		}
	}
}

func TestFinalize(t *testing.T) {
	r := &BatchResult{Results: []ItemResult{
		{Status: ItemSuccess},
		{Status: ItemFailure},
		{Status: ItemSuccess},
	}}
	r.Finalize()
	if r.TotalRequested != 3 || r.Successful != 2 || r.Failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", r.TotalRequested, r.Successful, r.Failed)
	}
	if r.Status != BatchPartial {
		t.Errorf("Status = %q, want PARTIAL", r.Status)
	}
}

func TestEligible(t *testing.T) {
	sentinel := int64(-7)
	real := int64(9001)
	tests := []struct {
		name  string
		order Order
		want  bool
	}{
		{"new unreserved", Order{Status: Status{Abbreviation: StatusNew}}, true},
		{"new reserved", Order{Status: Status{Abbreviation: StatusNew}, TradeOrderID: &sentinel}, false},
		{"sent", Order{Status: Status{Abbreviation: StatusSent}, TradeOrderID: &real}, false},
		{"cancelled", Order{Status: Status{Abbreviation: "CANCELLED"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.Eligible(); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}
