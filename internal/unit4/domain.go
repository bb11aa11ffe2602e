// Package unit4 models the Unit4 transaction-batch API and talks to it.
package unit4

import (
	"strings"

	"github.com/shopspring/decimal"
)

// BatchRequest is the body posted to the transaction-batch endpoint.
type BatchRequest struct {
	BatchInformation       BatchInformation         `json:"batchInformation"`
	TransactionInformation []TransactionInformation `json:"transactionInformation"`
}

// DetailCount returns the number of detail lines across all transactions.
func (r *BatchRequest) DetailCount() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, ti := range r.TransactionInformation {
		total += len(ti.TransactionDetailInformation)
	}
	return total
}

// BatchInformation identifies the batch.
type BatchInformation struct {
	Interface string `json:"interface"`
	BatchID   string `json:"batchId"`
}

// TransactionInformation is one voucher.
type TransactionInformation struct {
	CompanyID                    string                         `json:"companyId"`
	Period                       string                         `json:"period"`
	TransactionDate              string                         `json:"transactionDate"`
	TransactionType              string                         `json:"transactionType"`
	VoucherNumber                string                         `json:"voucherNumber,omitempty"`
	Description                  string                         `json:"description,omitempty"`
	Invoice                      *Invoice                       `json:"invoice,omitempty"`
	TransactionDetailInformation []TransactionDetailInformation `json:"transactionDetailInformation"`
}

// Invoice carries the supplier/customer side of a voucher.
type Invoice struct {
	CustomerOrSupplierID string `json:"customerOrSupplierId"`
	LedgerType           string `json:"ledgerType"`
	InvoiceNumber        string `json:"invoiceNumber,omitempty"`
	DueDate              string `json:"dueDate,omitempty"`
	PaymentMethod        string `json:"paymentMethod,omitempty"`
}

// TransactionDetailInformation is one ledger line.
type TransactionDetailInformation struct {
	SequenceNumber         int                     `json:"sequenceNumber"`
	Description            string                  `json:"description,omitempty"`
	ExternalReference      string                  `json:"externalReference,omitempty"`
	Status                 string                  `json:"status,omitempty"`
	TransactionType        string                  `json:"transactionType,omitempty"`
	AccountingInformation  *AccountingInformation  `json:"accountingInformation,omitempty"`
	Amounts                Amounts                 `json:"amounts"`
	TaxInformation         *TaxInformation         `json:"taxInformation,omitempty"`
	StatisticalInformation *StatisticalInformation `json:"statisticalInformation,omitempty"`
	AdditionalInformation  *AdditionalInformation  `json:"additionalInformation,omitempty"`
}

// AccountingInformation holds the account and dimension codes.
type AccountingInformation struct {
	Account              string `json:"account"`
	AccountingDimension1 string `json:"accountingDimension1,omitempty"`
	AccountingDimension2 string `json:"accountingDimension2,omitempty"`
	AccountingDimension3 string `json:"accountingDimension3,omitempty"`
	AccountingDimension4 string `json:"accountingDimension4,omitempty"`
	AccountingDimension5 string `json:"accountingDimension5,omitempty"`
	AccountingDimension6 string `json:"accountingDimension6,omitempty"`
	AccountingDimension7 string `json:"accountingDimension7,omitempty"`
	TaxCode              string `json:"taxCode,omitempty"`
	TaxSystem            string `json:"taxSystem,omitempty"`
}

// Amounts holds the monetary values of a line.
type Amounts struct {
	DebitCreditFlag string `json:"debitCreditFlag"`
	Amount          Amount `json:"amount"`
	CurrencyAmount  Amount `json:"currencyAmount"`
	CurrencyCode    string `json:"currencyCode"`
}

// TaxInformation holds the tax posting of a line.
type TaxInformation struct {
	TaxAccount   string  `json:"taxAccount,omitempty"`
	BaseAmount   *Amount `json:"baseAmount,omitempty"`
	BaseCurrency *Amount `json:"baseCurrencyAmount,omitempty"`
	TaxAmount    *Amount `json:"taxAmount,omitempty"`
	TaxCurrency  *Amount `json:"taxCurrencyAmount,omitempty"`
}

// StatisticalInformation holds auxiliary quantities.
type StatisticalInformation struct {
	Number1 *Amount `json:"number1,omitempty"`
	Value2  *Amount `json:"value2,omitempty"`
	Value3  *Amount `json:"value3,omitempty"`
}

// AdditionalInformation holds free-text counterparty fields.
type AdditionalInformation struct {
	FreeText1 string `json:"freeText1,omitempty"`
	FreeText2 string `json:"freeText2,omitempty"`
	FreeText3 string `json:"freeText3,omitempty"`
	FreeText4 string `json:"freeText4,omitempty"`
	FreeText5 string `json:"freeText5,omitempty"`
}

// Amount is a decimal that marshals as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// AmountPtr wraps d, keeping nil as nil.
func AmountPtr(d *decimal.Decimal) *Amount {
	if d == nil {
		return nil
	}
	return &Amount{Decimal: *d}
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// BatchStatusSuccess and BatchStatusError are the statuses returned by the API.
const (
	BatchStatusSuccess = "Success"
	BatchStatusError   = "Error"
)

// BatchResponse is the API answer to a batch submission.
type BatchResponse struct {
	Status             string              `json:"status"`
	Message            string              `json:"message,omitempty"`
	Errors             []string            `json:"errors,omitempty"`
	Warnings           []string            `json:"warnings,omitempty"`
	TransactionResults []TransactionResult `json:"transactionResults,omitempty"`
}

// TransactionResult reports the outcome of one voucher inside the batch.
type TransactionResult struct {
	TransactionNumber string `json:"transactionNumber"`
	VoucherNumber     string `json:"voucherNumber"`
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
}

// IsSuccess reports whether the batch was accepted.
func (r BatchResponse) IsSuccess() bool {
	return !strings.EqualFold(r.Status, BatchStatusError) && len(r.Errors) == 0
}

// Summary flattens the response into a single log-friendly line.
func (r BatchResponse) Summary() string {
	parts := make([]string, 0, 1+len(r.Errors))
	if r.Message != "" {
		parts = append(parts, r.Message)
	}
	parts = append(parts, r.Errors...)
	if len(parts) == 0 {
		return r.Status
	}
	return strings.Join(parts, "; ")
}
