// Package numbering issues unique sequential document identifiers per
// document type, formatted PREFIX-NNNNNN.
package numbering

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Document types known to the workflow engine.
const (
	TypeRequest     = "REQUEST"
	TypeOrder       = "ORDER"
	TypeDelivery    = "DELIVERY"
	TypePayment     = "PAYMENT"
	TypeCashSession = "CASH_SESSION"
)

var prefixes = map[string]string{
	TypeRequest:     "SOL",
	TypeOrder:       "ORD",
	TypeDelivery:    "ENT",
	TypePayment:     "PAG",
	TypeCashSession: "CAJ",
}

// Prefix returns the document prefix for a known type, empty otherwise.
func Prefix(docType string) string {
	return prefixes[docType]
}

// Format renders a counter value as PREFIX-NNNNNN.
func Format(docType string, value int64) string {
	return fmt.Sprintf("%s-%06d", prefixes[docType], value)
}

// nextSQL increments the per-type counter in a single atomic statement.
// A read-last-then-add-one approach races under concurrent creators; the
// upsert serializes on the counter row instead.
const nextSQL = `INSERT INTO document_counters (doc_type, last_value)
VALUES ($1, 1)
ON CONFLICT (doc_type)
DO UPDATE SET last_value = document_counters.last_value + 1
RETURNING last_value`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Next issues the next number for docType using the caller's executor.
// Called with a transaction-bound executor, the issued number rolls back
// together with the rest of a failed operation.
func Next(ctx context.Context, db rowQuerier, docType string) (string, error) {
	if _, ok := prefixes[docType]; !ok {
		return "", fmt.Errorf("numbering: unknown document type %q", docType)
	}
	var value int64
	if err := db.QueryRow(ctx, nextSQL, docType).Scan(&value); err != nil {
		return "", fmt.Errorf("numbering: next %s: %w", docType, err)
	}
	return Format(docType, value), nil
}
