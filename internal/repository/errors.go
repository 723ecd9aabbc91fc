package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrGatewayPaymentIDTaken is returned when a gateway payment id is already bound to another payment.
	ErrGatewayPaymentIDTaken = errors.New("gateway payment id already bound to a payment")
	ErrReceiptNumberTaken    = errors.New("receipt number already recorded")
	ErrGatewayOrderTaken     = errors.New("gateway order already recorded")
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
	gatewayPaymentIdx = "payments_gateway_payment_id_key"
	receiptNumberIdx  = "payments_receipt_number_key"
	gatewayOrderIdx   = "payments_gateway_order_id_key"
)

// isUniqueViolation reports whether err is a unique violation, optionally on a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsCheckViolation reports whether err is a CHECK constraint failure.
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation
}
