package models

import "errors"

type ChallanStatus string

const (
	ChallanStatusDraft     ChallanStatus = "Draft"
	ChallanStatusIssued    ChallanStatus = "Issued"
	ChallanStatusDelivered ChallanStatus = "Delivered"
	ChallanStatusClosed    ChallanStatus = "Closed"
	ChallanStatusCancelled ChallanStatus = "Cancelled"
)

func (s ChallanStatus) IsValid() bool {
	switch s {
	case ChallanStatusDraft, ChallanStatusIssued, ChallanStatusDelivered,
		ChallanStatusClosed, ChallanStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s ChallanStatus) IsTerminal() bool {
	return s == ChallanStatusClosed || s == ChallanStatusCancelled
}

type SourceType string

const (
	SourceTypeReadinessList SourceType = "readiness_list"
	SourceTypeQuotation     SourceType = "quotation"
	SourceTypeInvoice       SourceType = "invoice"
)

func ParseSourceType(str string) (SourceType, error) {
	switch str {
	case "readiness_list":
		return SourceTypeReadinessList, nil
	case "quotation":
		return SourceTypeQuotation, nil
	case "invoice":
		return SourceTypeInvoice, nil
	}
	return "", errors.New("invalid source type")
}

// ChallanType labels the kind of dispatch on the paper; it never changes
// how stock moves.
type ChallanType string

const (
	ChallanTypeDelivery   ChallanType = "delivery"
	ChallanTypeReturnable ChallanType = "returnable"
	ChallanTypeSample     ChallanType = "sample"
)

func (t ChallanType) IsValid() bool {
	switch t {
	case ChallanTypeDelivery, ChallanTypeReturnable, ChallanTypeSample:
		return true
	}
	return false
}

type MovementType string

const (
	MovementTypeOut MovementType = "out"
	MovementTypeIn  MovementType = "in"
)

type MovementReferenceType string

const (
	MovementReferenceTypeChallan         MovementReferenceType = "DC"
	MovementReferenceTypeChallanReversal MovementReferenceType = "DC_REVERSAL"
)

// DispatchStatus mirrors the fulfillment state of an upstream document
// (quotation or invoice) as its challans move through the lifecycle.
type DispatchStatus string

const (
	DispatchStatusNotDispatched DispatchStatus = "NOT_DISPATCHED"
	DispatchStatusDcPending     DispatchStatus = "DC_PENDING"
	DispatchStatusDispatched    DispatchStatus = "DISPATCHED"
	DispatchStatusDelivered     DispatchStatus = "DELIVERED"
)

type ReadinessStatus string

const (
	ReadinessStatusCreated   ReadinessStatus = "CREATED"
	ReadinessStatusAssigned  ReadinessStatus = "ASSIGNED"
	ReadinessStatusPicking   ReadinessStatus = "PICKING"
	ReadinessStatusReady     ReadinessStatus = "READY"
	ReadinessStatusClosed    ReadinessStatus = "CLOSED"
	ReadinessStatusCancelled ReadinessStatus = "CANCELLED"
)

type QuotationStatus string

const (
	QuotationStatusDraft    QuotationStatus = "Draft"
	QuotationStatusSent     QuotationStatus = "Sent"
	QuotationStatusApproved QuotationStatus = "Approved"
	QuotationStatusDeclined QuotationStatus = "Declined"
	QuotationStatusExpired  QuotationStatus = "Expired"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusConfirmed InvoiceStatus = "Confirmed"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusVoid      InvoiceStatus = "Void"
)

type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusReleased ReservationStatus = "released"
)

// DeliveredCondition is recorded with proof of delivery.
type DeliveredCondition string

const (
	DeliveredConditionGood    DeliveredCondition = "good"
	DeliveredConditionDamaged DeliveredCondition = "damaged"
	DeliveredConditionPartial DeliveredCondition = "partial"
)
