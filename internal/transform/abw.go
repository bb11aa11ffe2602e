package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/unit4-bridge/internal/abw"
	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
	"github.com/odyssey-erp/unit4-bridge/internal/unit4"
)

// FallbackCurrency is used when neither the export, the source system nor the
// installation names a currency.
const FallbackCurrency = "SEK"

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"20060102",
}

// ABWTransformer maps ABWTransaction exports.
type ABWTransformer struct {
	defaultCurrency string
	clock           func() time.Time
}

// NewABWTransformer constructs the transformer. defaultCurrency applies when
// neither the line nor the source system names one.
func NewABWTransformer(defaultCurrency string) *ABWTransformer {
	defaultCurrency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = FallbackCurrency
	}
	return &ABWTransformer{
		defaultCurrency: defaultCurrency,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (t *ABWTransformer) WithClock(clock func() time.Time) {
	if t != nil && clock != nil {
		t.clock = clock
	}
}

// Type implements Transformer.
func (t *ABWTransformer) Type() string {
	return DefaultType
}

// CanHandle sniffs for the root element name and the namespace.
func (t *ABWTransformer) CanHandle(raw string) bool {
	return strings.Contains(raw, abw.RootElement) && strings.Contains(raw, abw.NamespaceMarker)
}

// Transform parses raw and maps it using the source system's overrides.
func (t *ABWTransformer) Transform(raw string, sys sourcesystem.SourceSystem) (*unit4.BatchRequest, error) {
	if !t.CanHandle(raw) {
		return nil, &abw.MalformedInputError{Reason: "content is not an ABWTransaction export"}
	}
	doc, err := abw.Parse(raw)
	if err != nil {
		return nil, err
	}
	return t.Map(doc, sys), nil
}

// Map converts an already parsed document.
func (t *ABWTransformer) Map(doc *abw.Document, sys sourcesystem.SourceSystem) *unit4.BatchRequest {
	req := &unit4.BatchRequest{
		BatchInformation: unit4.BatchInformation{
			Interface: firstNonEmpty(sys.Interface, doc.Interface),
			BatchID:   t.batchID(doc, sys),
		},
		TransactionInformation: make([]unit4.TransactionInformation, 0, len(doc.Vouchers)),
	}
	for _, v := range doc.Vouchers {
		req.TransactionInformation = append(req.TransactionInformation, t.mapVoucher(v, sys))
	}
	return req
}

// FormatBatchID renders prefix-yyMMddHHmmssff for the given instant in UTC.
func FormatBatchID(prefix string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s-%s%02d", prefix, at.Format("060102150405"), at.Nanosecond()/int(10*time.Millisecond))
}

func (t *ABWTransformer) batchID(doc *abw.Document, sys sourcesystem.SourceSystem) string {
	prefix := strings.TrimSpace(sys.BatchIDPrefix)
	if prefix == "" {
		return doc.BatchID
	}
	return FormatBatchID(prefix, t.now())
}

func (t *ABWTransformer) mapVoucher(v abw.Voucher, sys sourcesystem.SourceSystem) unit4.TransactionInformation {
	info := unit4.TransactionInformation{
		CompanyID:                    v.CompanyCode,
		Period:                       v.Period,
		TransactionDate:              normalizeDate(v.VoucherDate),
		VoucherNumber:                v.VoucherNo,
		Description:                  v.Description,
		TransactionDetailInformation: make([]unit4.TransactionDetailInformation, 0, len(v.Transactions)),
	}

	invoiceSource := -1
	for i, tr := range v.Transactions {
		if tr.ApArInfo != nil {
			invoiceSource = i
			break
		}
	}
	if invoiceSource >= 0 {
		tr := v.Transactions[invoiceSource]
		info.Invoice = mapInvoice(tr.ApArInfo)
		info.TransactionType = tr.TransType
	}
	if sys.TransactionType != "" {
		info.TransactionType = sys.TransactionType
	}

	for i, tr := range v.Transactions {
		info.TransactionDetailInformation = append(info.TransactionDetailInformation, t.mapTransaction(tr, i+1, sys))
	}
	return info
}

func (t *ABWTransformer) mapTransaction(tr abw.Transaction, position int, sys sourcesystem.SourceSystem) unit4.TransactionDetailInformation {
	seq := position
	if tr.SequenceNo != nil && *tr.SequenceNo > 0 {
		seq = *tr.SequenceNo
	}
	detail := unit4.TransactionDetailInformation{
		SequenceNumber:    seq,
		Description:       tr.Description,
		ExternalReference: tr.ExternalRef,
		Status:            tr.Status,
		TransactionType:   tr.TransType,
	}

	glCurrency := ""
	if gl := tr.GLAnalysis; gl != nil {
		glCurrency = strings.TrimSpace(gl.Currency)
		detail.AccountingInformation = &unit4.AccountingInformation{
			Account:              gl.Account,
			AccountingDimension1: gl.Dim1,
			AccountingDimension2: gl.Dim2,
			AccountingDimension3: gl.Dim3,
			AccountingDimension4: gl.Dim4,
			AccountingDimension5: gl.Dim5,
			AccountingDimension6: gl.Dim6,
			AccountingDimension7: gl.Dim7,
			TaxCode:              gl.TaxCode,
			TaxSystem:            gl.TaxSystem,
		}
	}

	detail.Amounts.CurrencyCode = firstNonEmpty(glCurrency, sys.DefaultCurrency, t.defaultCurrency)
	if am := tr.Amounts; am != nil {
		detail.Amounts.DebitCreditFlag = am.DcFlag
		detail.Amounts.Amount = unit4.NewAmount(am.Amount.Value)
		detail.Amounts.CurrencyAmount = unit4.NewAmount(am.CurrAmount.Value)
		if am.Number1.Valid || am.Value2.Valid || am.Value3.Valid {
			detail.StatisticalInformation = &unit4.StatisticalInformation{
				Number1: unit4.AmountPtr(am.Number1.Ptr()),
				Value2:  unit4.AmountPtr(am.Value2.Ptr()),
				Value3:  unit4.AmountPtr(am.Value3.Ptr()),
			}
		}
	}

	if tax := tr.TaxTransInfo; tax != nil {
		detail.TaxInformation = &unit4.TaxInformation{
			TaxAccount:   tax.Account2,
			BaseAmount:   unit4.AmountPtr(tax.BaseAmount.Ptr()),
			BaseCurrency: unit4.AmountPtr(tax.BaseCurr.Ptr()),
			TaxAmount:    unit4.AmountPtr(tax.TaxAmount.Ptr()),
			TaxCurrency:  unit4.AmountPtr(tax.TaxCurr.Ptr()),
		}
	}

	if tr.ApArInfo != nil && !tr.ApArInfo.SundryInfo.Empty() {
		s := tr.ApArInfo.SundryInfo
		detail.AdditionalInformation = &unit4.AdditionalInformation{
			FreeText1: s.Name,
			FreeText2: s.Address,
			FreeText3: s.Place,
			FreeText4: s.Province,
			FreeText5: s.ZipCode,
		}
	}
	return detail
}

func mapInvoice(info *abw.ApArInfo) *unit4.Invoice {
	return &unit4.Invoice{
		CustomerOrSupplierID: info.ApArNo,
		LedgerType:           strings.ToUpper(strings.TrimSpace(info.ApArType)),
		InvoiceNumber:        info.InvoiceNo,
		DueDate:              normalizeDate(info.DueDate),
		PaymentMethod:        info.PayMethod,
	}
}

func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.Format("2006-01-02")
		}
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (t *ABWTransformer) now() time.Time {
	if t != nil && t.clock != nil {
		return t.clock()
	}
	return time.Now().UTC()
}
