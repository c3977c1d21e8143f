// Package repository persists issued-invoice audit records in PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/facturabot/facturabot/internal/invoicing"
)

// InvoiceRepository stores the audit trail of stamped invoices.
type InvoiceRepository interface {
	RecordInvoice(ctx context.Context, inv invoicing.IssuedInvoice) error
	CountByUser(ctx context.Context, userID string) (int64, error)
}

type invoiceRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewInvoiceRepository creates a SQL-backed invoice repository.
func NewInvoiceRepository(db *sql.DB, log *slog.Logger) InvoiceRepository {
	return &invoiceRepository{
		db:  db,
		log: log,
	}
}

// RecordInvoice inserts one audit row per issued invoice. external_id is
// unique, so a conflicting replay is ignored rather than duplicated.
func (r *invoiceRepository) RecordInvoice(ctx context.Context, inv invoicing.IssuedInvoice) error {
	const query = `
		INSERT INTO invoices (user_id, external_id, customer_id, uuid, verification_url, amount, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		inv.UserID,
		inv.ExternalID,
		inv.CustomerID,
		inv.UUID,
		inv.VerificationURL,
		inv.Amount,
		inv.IssuedAt,
	); err != nil {
		if r.log != nil {
			r.log.Error("failed to record invoice",
				slog.String("external_id", inv.ExternalID), slog.Any("error", err))
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	return nil
}

// CountByUser returns how many invoices have been issued for a counterpart.
func (r *invoiceRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	const query = `SELECT COUNT(*) FROM invoices WHERE user_id = $1`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		if r.log != nil {
			r.log.Error("failed to count invoices",
				slog.String("user_id", userID), slog.Any("error", err))
		}
		return 0, fmt.Errorf("count invoices by user: %w", err)
	}

	return count, nil
}
