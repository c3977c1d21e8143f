package invoicing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/facturabot/facturabot/internal/errors"
	"github.com/facturabot/facturabot/internal/facturapi"
)

type mockBillingClient struct {
	mock.Mock
}

func (m *mockBillingClient) CreateCustomer(ctx context.Context, req facturapi.CustomerRequest) (*facturapi.Customer, error) {
	args := m.Called(ctx, req)
	customer, _ := args.Get(0).(*facturapi.Customer)
	return customer, args.Error(1)
}

func (m *mockBillingClient) CreateInvoice(ctx context.Context, req facturapi.InvoiceRequest) (*facturapi.Invoice, error) {
	args := m.Called(ctx, req)
	invoice, _ := args.Get(0).(*facturapi.Invoice)
	return invoice, args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordInvoice(ctx context.Context, inv IssuedInvoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completedFields() map[string]string {
	return map[string]string{
		"rfc":         "XAXX010101000",
		"cp":          "64000",
		"regimen":     "612",
		"nombre":      "Juan Pérez",
		"uso":         "G03",
		"metodo":      "pue",
		"forma":       "03",
		"descripcion": "Consultoría",
		"importe":     "1008.62",
	}
}

func testIssuer() IssuerIdentity {
	return IssuerIdentity{TaxID: "EKU9003173C9", TaxSystem: "601", Zip: "64000"}
}

func TestSubmit_Success(t *testing.T) {
	ctx := context.Background()
	client := &mockBillingClient{}

	client.On("CreateCustomer", mock.Anything, mock.MatchedBy(func(req facturapi.CustomerRequest) bool {
		return req.LegalName == "Juan Pérez" &&
			req.TaxID == "XAXX010101000" &&
			req.TaxSystem == "612" &&
			req.Address.Zip == "64000" &&
			req.Address.Country == "MEX"
	})).Return(&facturapi.Customer{ID: "cus_1"}, nil).Once()

	client.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(req facturapi.InvoiceRequest) bool {
		item := req.Items[0]
		return req.Customer == "cus_1" &&
			req.PaymentMethod == "PUE" &&
			req.PaymentForm == "03" &&
			req.Use == "G03" &&
			req.Type == "I" &&
			req.Issuer.TaxID == "EKU9003173C9" &&
			item.Quantity == 1 &&
			item.Product.Price == 1008.62 &&
			item.Product.ProductKey == 80141600 &&
			item.Product.UnitKey == "E48" &&
			!item.Product.TaxIncluded &&
			item.Product.Taxes[0].Rate == 0.16
	})).Return(&facturapi.Invoice{
		ID:              "inv_1",
		UUID:            "AAAA-BBBB-CCCC",
		VerificationURL: "https://verificacfdi.facturacion.sat.gob.mx/x",
	}, nil).Once()

	o := NewOrchestrator(client, testIssuer(), nil, testLogger())
	o.clock = func() time.Time { return time.UnixMilli(1700000000000) }

	msg, err := o.Submit(ctx, "5215512345678", completedFields())
	require.NoError(t, err)

	assert.Contains(t, msg, "AAAA-BBBB-CCCC")
	assert.Contains(t, msg, "verificacfdi")
	client.AssertExpectations(t)
}

func TestSubmit_ExternalIDFormat(t *testing.T) {
	ctx := context.Background()
	client := &mockBillingClient{}

	client.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&facturapi.Customer{ID: "cus_1"}, nil).Once()
	client.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(req facturapi.InvoiceRequest) bool {
		return req.ExternalID == "WA-5215512345678-1700000000000"
	})).Return(&facturapi.Invoice{UUID: "U"}, nil).Once()

	o := NewOrchestrator(client, testIssuer(), nil, testLogger())
	o.clock = func() time.Time { return time.UnixMilli(1700000000000) }

	_, err := o.Submit(ctx, "5215512345678", completedFields())
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSubmit_CustomerFailureShortCircuits(t *testing.T) {
	ctx := context.Background()
	client := &mockBillingClient{}

	client.On("CreateCustomer", mock.Anything, mock.Anything).
		Return((*facturapi.Customer)(nil), errors.New("422: rfc inválido")).Once()

	o := NewOrchestrator(client, testIssuer(), nil, testLogger())

	msg, err := o.Submit(ctx, "5215512345678", completedFields())
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "E300", appErr.Code)
	assert.Contains(t, msg, "No se pudo emitir")

	// the invoice call must never have been attempted
	client.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
}

func TestSubmit_InvoiceFailure(t *testing.T) {
	ctx := context.Background()
	client := &mockBillingClient{}

	client.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&facturapi.Customer{ID: "cus_1"}, nil).Once()
	client.On("CreateInvoice", mock.Anything, mock.Anything).
		Return((*facturapi.Invoice)(nil), errors.New("500: sat timeout")).Once()

	o := NewOrchestrator(client, testIssuer(), nil, testLogger())

	msg, err := o.Submit(ctx, "5215512345678", completedFields())
	require.Error(t, err)
	assert.Contains(t, msg, "No se pudo emitir")
	client.AssertExpectations(t)
}

func TestSubmit_UnparsableAmount(t *testing.T) {
	ctx := context.Background()
	client := &mockBillingClient{}

	client.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&facturapi.Customer{ID: "cus_1"}, nil).Once()

	fields := completedFields()
	fields["importe"] = "mil pesos"

	o := NewOrchestrator(client, testIssuer(), nil, testLogger())

	msg, err := o.Submit(ctx, "5215512345678", fields)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "E100", appErr.Code)
	assert.Contains(t, msg, "No se pudo emitir")
	client.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
}

func TestSubmit_RecordsAuditEntry(t *testing.T) {
	ctx := context.Background()
	client := &mockBillingClient{}
	recorder := &mockRecorder{}

	client.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&facturapi.Customer{ID: "cus_1"}, nil).Once()
	client.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&facturapi.Invoice{UUID: "UUID-1", VerificationURL: "https://sat/x"}, nil).Once()

	recorder.On("RecordInvoice", mock.Anything, mock.MatchedBy(func(inv IssuedInvoice) bool {
		return inv.UserID == "5215512345678" &&
			inv.UUID == "UUID-1" &&
			inv.CustomerID == "cus_1" &&
			inv.Amount == 1008.62
	})).Return(nil).Once()

	o := NewOrchestrator(client, testIssuer(), recorder, testLogger())

	_, err := o.Submit(ctx, "5215512345678", completedFields())
	require.NoError(t, err)
	recorder.AssertExpectations(t)
}

func TestSubmit_AuditFailureDoesNotAffectOutcome(t *testing.T) {
	ctx := context.Background()
	client := &mockBillingClient{}
	recorder := &mockRecorder{}

	client.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&facturapi.Customer{ID: "cus_1"}, nil).Once()
	client.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&facturapi.Invoice{UUID: "UUID-1"}, nil).Once()
	recorder.On("RecordInvoice", mock.Anything, mock.Anything).
		Return(errors.New("db down")).Once()

	o := NewOrchestrator(client, testIssuer(), recorder, testLogger())

	msg, err := o.Submit(ctx, "5215512345678", completedFields())
	require.NoError(t, err)
	assert.Contains(t, msg, "UUID-1")
}
