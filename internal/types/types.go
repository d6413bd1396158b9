// Package types defines core data structures for the orderd service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known status abbreviations. Statuses live in the statuses table and can
// be extended operationally; only these two have behavior attached in code.
const (
	StatusNew  = "NEW"
	StatusSent = "SENT"
)

// MaxPortfolioIDLen bounds the opaque portfolio identifier.
const MaxPortfolioIDLen = 24

// Status is a reference row describing an order's lifecycle position.
type Status struct {
	ID           int32  `json:"id"`
	Abbreviation string `json:"abbreviation"`
	Description  string `json:"description,omitempty"`
	Version      int32  `json:"version"`
}

// OrderType is a reference row describing how an order executes (MARKET, LIMIT, ...).
type OrderType struct {
	ID           int32  `json:"id"`
	Abbreviation string `json:"abbreviation"`
	Description  string `json:"description,omitempty"`
	Version      int32  `json:"version"`
}

// Blotter is an optional grouping label for orders.
type Blotter struct {
	ID      int32  `json:"id"`
	Name    string `json:"name"`
	Version int32  `json:"version"`
}

// Order is a caller's intent to trade a quantity of a security.
//
// TradeOrderID is nil until the order has been submitted downstream. While a
// submission is in flight the column holds the negative of the order's own ID
// as a reservation sentinel; that value never appears in API responses because
// reserved orders are either committed or released before the request returns.
type Order struct {
	ID             int64            `json:"id"`
	Blotter        *Blotter         `json:"blotter,omitempty"`
	Status         Status           `json:"status"`
	PortfolioID    string           `json:"portfolioId"`
	OrderType      OrderType        `json:"orderType"`
	SecurityID     string           `json:"securityId"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	TradeOrderID   *int64           `json:"tradeOrderId,omitempty"`
	OrderTimestamp time.Time        `json:"orderTimestamp"`
	Version        int32            `json:"version"`
}

// Eligible reports whether the order may be offered to the trade service.
// Only NEW orders that have never been submitted (or reserved) qualify.
func (o *Order) Eligible() bool {
	return o.Status.Abbreviation == StatusNew && o.TradeOrderID == nil
}

// OrderDraft is the inbound payload for batch order creation.
type OrderDraft struct {
	BlotterID      *int32           `json:"blotterId,omitempty"`
	OrderTypeID    int32            `json:"orderTypeId" validate:"required"`
	PortfolioID    string           `json:"portfolioId" validate:"required,max=24"`
	SecurityID     string           `json:"securityId" validate:"required"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	OrderTimestamp *time.Time       `json:"orderTimestamp,omitempty"`
}

// ItemStatus is the outcome of one item within a batch operation.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "SUCCESS"
	ItemFailure ItemStatus = "FAILURE"
)

// BatchStatus is the aggregate outcome of a batch operation.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "SUCCESS"
	BatchPartial BatchStatus = "PARTIAL"
	BatchFailure BatchStatus = "FAILURE"
)

// AggregateStatus derives the batch status from per-item counts.
func AggregateStatus(successful, failed int) BatchStatus {
	switch {
	case failed == 0:
		return BatchSuccess
	case successful == 0:
		return BatchFailure
	default:
		return BatchPartial
	}
}

// ItemResult is one entry in a batch response, reported in request order.
// RequestIndex is the item's position in the original request payload.
type ItemResult struct {
	OrderID      int64      `json:"orderId"`
	Status       ItemStatus `json:"status"`
	Message      string     `json:"message,omitempty"`
	TradeOrderID *int64     `json:"tradeOrderId"`
	RequestIndex int        `json:"requestIndex"`
}

// BatchResult is the aggregate response for bulk submit and batch create.
type BatchResult struct {
	Status         BatchStatus  `json:"status"`
	Message        string       `json:"message,omitempty"`
	TotalRequested int          `json:"totalRequested"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	Results        []ItemResult `json:"results"`
}

// Finalize fills the aggregate counters and status from the per-item results.
func (r *BatchResult) Finalize() {
	r.Successful, r.Failed = 0, 0
	for _, item := range r.Results {
		if item.Status == ItemSuccess {
			r.Successful++
		} else {
			r.Failed++
		}
	}
	r.TotalRequested = len(r.Results)
	r.Status = AggregateStatus(r.Successful, r.Failed)
}
