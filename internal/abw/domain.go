// Package abw reads Agresso ABWTransaction exports.
package abw

import (
	"encoding/xml"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// RootElement is the local name of the export's document element.
	RootElement = "ABWTransaction"
	// Namespace is the current ABWTransaction schema namespace.
	Namespace = "http://services.agresso.com/schema/ABWTransaction/2011/11/14"
	// SchemaLibNamespace is the current namespace of the shared schema library types.
	SchemaLibNamespace = "http://services.agresso.com/schema/ABWSchemaLib/2011/11/14"
	// NamespaceMarker is the version-independent part of the namespace URI.
	NamespaceMarker = "services.agresso.com/schema/ABWTransaction"
)

// Document is a parsed ABWTransaction export.
type Document struct {
	XMLName   xml.Name  `xml:"http://services.agresso.com/schema/ABWTransaction/2011/11/14 ABWTransaction"`
	Interface string    `xml:"Interface"`
	BatchID   string    `xml:"BatchId"`
	Vouchers  []Voucher `xml:"Voucher"`
}

// TransactionCount sums the transactions over all vouchers.
func (d *Document) TransactionCount() int {
	if d == nil {
		return 0
	}
	total := 0
	for _, v := range d.Vouchers {
		total += len(v.Transactions)
	}
	return total
}

// Voucher groups ledger lines that belong to one accounting document.
type Voucher struct {
	VoucherNo    string        `xml:"VoucherNo"`
	VoucherType  string        `xml:"VoucherType"`
	CompanyCode  string        `xml:"CompanyCode"`
	Period       string        `xml:"Period"`
	VoucherDate  string        `xml:"VoucherDate"`
	Description  string        `xml:"Description"`
	Transactions []Transaction `xml:"Transaction"`
}

// Transaction is one ledger line.
type Transaction struct {
	TransType    string        `xml:"TransType"`
	Description  string        `xml:"Description"`
	Status       string        `xml:"Status"`
	TransDate    string        `xml:"TransDate"`
	ExternalRef  string        `xml:"ExternalRef"`
	SequenceNo   *int          `xml:"SequenceNo"`
	Amounts      *Amounts      `xml:"Amounts"`
	GLAnalysis   *GLAnalysis   `xml:"GLAnalysis"`
	ApArInfo     *ApArInfo     `xml:"ApArInfo"`
	TaxTransInfo *TaxTransInfo `xml:"TaxTransInfo"`
}

// Amounts carries the monetary values of a line.
type Amounts struct {
	DcFlag     string `xml:"DcFlag"`
	Amount     Number `xml:"Amount"`
	CurrAmount Number `xml:"CurrAmount"`
	Number1    Number `xml:"Number1"`
	Value2     Number `xml:"Value2"`
	Value3     Number `xml:"Value3"`
	Currency   string `xml:"Currency"`
}

// GLAnalysis carries the account and its dimension codes.
type GLAnalysis struct {
	Account   string `xml:"Account"`
	Dim1      string `xml:"Dim1"`
	Dim2      string `xml:"Dim2"`
	Dim3      string `xml:"Dim3"`
	Dim4      string `xml:"Dim4"`
	Dim5      string `xml:"Dim5"`
	Dim6      string `xml:"Dim6"`
	Dim7      string `xml:"Dim7"`
	Currency  string `xml:"Currency"`
	TaxCode   string `xml:"TaxCode"`
	TaxSystem string `xml:"TaxSystem"`
}

// ApArInfo identifies the supplier or customer side of a line.
type ApArInfo struct {
	ApArType   string      `xml:"ApArType"`
	ApArNo     string      `xml:"ApArNo"`
	InvoiceNo  string      `xml:"InvoiceNo"`
	DueDate    string      `xml:"DueDate"`
	PayMethod  string      `xml:"PayMethod"`
	SundryInfo *SundryInfo `xml:"SundryInfo"`
}

// SundryInfo holds free-text counterparty details.
type SundryInfo struct {
	Name     string `xml:"Name"`
	Address  string `xml:"Address"`
	Place    string `xml:"Place"`
	Province string `xml:"Province"`
	ZipCode  string `xml:"ZipCode"`
}

// Empty reports whether every field is blank.
func (s *SundryInfo) Empty() bool {
	if s == nil {
		return true
	}
	for _, v := range []string{s.Name, s.Address, s.Place, s.Province, s.ZipCode} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// TaxTransInfo carries the tax posting of a line.
type TaxTransInfo struct {
	Account2   string `xml:"Account2"`
	BaseAmount Number `xml:"BaseAmount"`
	BaseCurr   Number `xml:"BaseCurr"`
	TaxAmount  Number `xml:"TaxAmount"`
	TaxCurr    Number `xml:"TaxCurr"`
}

// Number is an optional decimal element. Missing or empty elements leave Valid false.
type Number struct {
	Value decimal.Decimal
	Valid bool
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Number) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*n = Number{}
		return nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	*n = Number{Value: value, Valid: true}
	return nil
}

// Ptr returns the value or nil when absent.
func (n Number) Ptr() *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// NumberOf builds a present Number, mostly for tests and fixtures.
func NumberOf(value string) Number {
	return Number{Value: decimal.RequireFromString(value), Valid: true}
}
