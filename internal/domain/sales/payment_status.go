package sales

import (
	"github.com/lojatextil/erp/internal/domain/payment"
)

// PaymentStatus is a sale's payment state as seen by the ERP
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusRejected  PaymentStatus = "rejected"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// AllPaymentStatuses lists every status in a stable order
var AllPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusApproved,
	PaymentStatusRejected,
	PaymentStatusCancelled,
}

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected, PaymentStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsFinal reports whether the status is terminal. Pending is never final.
func (s PaymentStatus) IsFinal() bool {
	switch s {
	case PaymentStatusApproved, PaymentStatusRejected, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo checks whether reconciliation may move a sale from s to
// target without an operator override. Equal statuses are not a transition.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	if !target.IsValid() || s == target {
		return false
	}
	switch s {
	case PaymentStatusPending:
		return true
	case PaymentStatusRejected, PaymentStatusCancelled:
		// a later successful attempt supersedes a failed one
		return target == PaymentStatusApproved
	case PaymentStatusApproved:
		return false
	}
	return false
}

// StatusesAllowingTransitionTo returns the current statuses from which an
// update to target may be written, including target itself so that payment
// linkage can be refreshed while the status stays put on pending sales.
func StatusesAllowingTransitionTo(target PaymentStatus) []PaymentStatus {
	allowed := make([]PaymentStatus, 0, len(AllPaymentStatuses))
	for _, from := range AllPaymentStatuses {
		if from.CanTransitionTo(target) || (from == target && !from.IsFinal()) {
			allowed = append(allowed, from)
		}
	}
	return allowed
}

// MapGatewayStatus maps a raw gateway status onto a sale status. The table is
// total: anything the ERP does not model explicitly stays pending.
func MapGatewayStatus(status payment.Status) PaymentStatus {
	switch status {
	case payment.StatusApproved:
		return PaymentStatusApproved
	case payment.StatusRejected:
		return PaymentStatusRejected
	case payment.StatusCancelled:
		return PaymentStatusCancelled
	default:
		return PaymentStatusPending
	}
}

// PaymentMethod is how the customer paid
type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodPix     PaymentMethod = "pix"
	PaymentMethodGateway PaymentMethod = "gateway"
)

// IsValid checks if the method is a valid PaymentMethod
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodPix, PaymentMethodGateway:
		return true
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// IsImmediate reports whether the method settles at the counter.
func (m PaymentMethod) IsImmediate() bool {
	return m == PaymentMethodCash
}
