package facturapi

// Address is the fiscal address block shared by customers and issuers.
type Address struct {
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// CustomerRequest creates a CFDI receiver record.
type CustomerRequest struct {
	LegalName string  `json:"legal_name"`
	TaxID     string  `json:"tax_id"`
	TaxSystem string  `json:"tax_system"`
	Address   Address `json:"address"`
}

// Customer is the subset of the customer resource the flow consumes.
type Customer struct {
	ID string `json:"id"`
}

// Tax is a single tax entry on a product.
type Tax struct {
	Type string  `json:"type"`
	Rate float64 `json:"rate"`
}

// Product describes the billed concept on an invoice line.
type Product struct {
	Description string  `json:"description"`
	ProductKey  int     `json:"product_key"`
	UnitKey     string  `json:"unit_key"`
	Price       float64 `json:"price"`
	TaxIncluded bool    `json:"tax_included"`
	Taxability  string  `json:"taxability"`
	Taxes       []Tax   `json:"taxes"`
}

// Item is one invoice line.
type Item struct {
	Quantity int     `json:"quantity"`
	Product  Product `json:"product"`
}

// Issuer identifies the CFDI emitter.
type Issuer struct {
	TaxID     string  `json:"tax_id"`
	TaxSystem string  `json:"tax_system"`
	Address   Address `json:"address"`
}

// InvoiceRequest creates and stamps a CFDI.
type InvoiceRequest struct {
	Customer      string `json:"customer"`
	Items         []Item `json:"items"`
	PaymentForm   string `json:"payment_form"`
	PaymentMethod string `json:"payment_method"`
	Use           string `json:"use"`
	Type          string `json:"type"`
	ExternalID    string `json:"external_id"`
	Issuer        Issuer `json:"issuer"`
}

// Invoice is the subset of the invoice resource relayed to the user.
type Invoice struct {
	ID              string `json:"id"`
	UUID            string `json:"uuid"`
	VerificationURL string `json:"verification_url"`
}
