// Package invoicing turns a completed field set into a stamped CFDI via a
// strict two-stage pipeline: create the customer record, then create the
// invoice against it. Stage two never runs when stage one fails, and no
// stage is retried; the session is gone before submission starts, so a
// failure sends the user back to the beginning of the flow.
package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/facturabot/facturabot/internal/errors"
	"github.com/facturabot/facturabot/internal/facturapi"
	"github.com/facturabot/facturabot/pkg/metrics"
)

// Fixed CFDI parameters for the single-line-item service invoice.
const (
	countryMexico     = "MEX"
	productKeyService = 80141600
	unitKeyService    = "E48"
	taxabilityCode    = "01"
	ivaRate           = 0.16
	invoiceTypeIngreso = "I"
)

const failureMessage = "❌ No se pudo emitir tu factura. Escribe \"factura\" para iniciar de nuevo."

// BillingClient is the subset of the Facturapi client the orchestrator uses.
type BillingClient interface {
	CreateCustomer(ctx context.Context, req facturapi.CustomerRequest) (*facturapi.Customer, error)
	CreateInvoice(ctx context.Context, req facturapi.InvoiceRequest) (*facturapi.Invoice, error)
}

// IssuerIdentity is the fixed CFDI emitter loaded from configuration.
type IssuerIdentity struct {
	TaxID     string
	TaxSystem string
	Zip       string
}

// IssuedInvoice is the audit record written after a successful submission.
type IssuedInvoice struct {
	UserID          string
	ExternalID      string
	CustomerID      string
	UUID            string
	VerificationURL string
	Amount          float64
	IssuedAt        time.Time
}

// Recorder persists issued invoices for auditing. Recording is best-effort
// and never affects the user-facing outcome.
type Recorder interface {
	RecordInvoice(ctx context.Context, inv IssuedInvoice) error
}

// Orchestrator coordinates the two billing calls and formats the outcome.
type Orchestrator struct {
	client   BillingClient
	issuer   IssuerIdentity
	recorder Recorder
	log      *slog.Logger
	clock    func() time.Time
}

// NewOrchestrator builds an Orchestrator. recorder may be nil when no audit
// database is configured.
func NewOrchestrator(client BillingClient, issuer IssuerIdentity, recorder Recorder, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		client:   client,
		issuer:   issuer,
		recorder: recorder,
		log:      log,
		clock:    time.Now,
	}
}

// Submit runs the pipeline for a completed field set and returns the single
// outbound message for the user. The returned error, when non-nil, is for
// logging and metrics; the message is sent either way.
func (o *Orchestrator) Submit(ctx context.Context, userID string, fields map[string]string) (string, error) {
	customer, err := o.client.CreateCustomer(ctx, facturapi.CustomerRequest{
		LegalName: fields["nombre"],
		TaxID:     fields["rfc"],
		TaxSystem: fields["regimen"],
		Address:   facturapi.Address{Zip: fields["cp"], Country: countryMexico},
	})
	if err != nil {
		metrics.RecordInvoice("customer_failed")
		return failureMessage, apperrors.NewUpstreamError("facturapi customers", err)
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(fields["importe"]), 64)
	if err != nil {
		metrics.RecordInvoice("invalid_amount")
		return failureMessage, apperrors.NewValidationError(
			fmt.Sprintf("el importe %q no es un número", fields["importe"]))
	}

	externalID := fmt.Sprintf("WA-%s-%d", userID, o.clock().UnixMilli())

	invoice, err := o.client.CreateInvoice(ctx, facturapi.InvoiceRequest{
		Customer: customer.ID,
		Items: []facturapi.Item{{
			Quantity: 1,
			Product: facturapi.Product{
				Description: fields["descripcion"],
				ProductKey:  productKeyService,
				UnitKey:     unitKeyService,
				Price:       price,
				TaxIncluded: false,
				Taxability:  taxabilityCode,
				Taxes:       []facturapi.Tax{{Type: "IVA", Rate: ivaRate}},
			},
		}},
		PaymentForm:   fields["forma"],
		PaymentMethod: strings.ToUpper(fields["metodo"]),
		Use:           fields["uso"],
		Type:          invoiceTypeIngreso,
		ExternalID:    externalID,
		Issuer: facturapi.Issuer{
			TaxID:     o.issuer.TaxID,
			TaxSystem: o.issuer.TaxSystem,
			Address:   facturapi.Address{Zip: o.issuer.Zip, Country: countryMexico},
		},
	})
	if err != nil {
		metrics.RecordInvoice("invoice_failed")
		return failureMessage, apperrors.NewUpstreamError("facturapi invoices", err)
	}

	metrics.RecordInvoice("issued")
	o.audit(ctx, IssuedInvoice{
		UserID:          userID,
		ExternalID:      externalID,
		CustomerID:      customer.ID,
		UUID:            invoice.UUID,
		VerificationURL: invoice.VerificationURL,
		Amount:          price,
		IssuedAt:        o.clock().UTC(),
	})

	message := fmt.Sprintf("✅ Factura emitida.\nUUID: %s\nVerificación SAT: %s",
		invoice.UUID, invoice.VerificationURL)

	return message, nil
}

func (o *Orchestrator) audit(ctx context.Context, inv IssuedInvoice) {
	if o.recorder == nil {
		return
	}

	if err := o.recorder.RecordInvoice(ctx, inv); err != nil {
		o.log.Error("failed to record issued invoice",
			slog.String("user_id", inv.UserID),
			slog.String("external_id", inv.ExternalID),
			slog.Any("error", err))
	}
}
