package nfe

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"github.com/shopspring/decimal"
)

// Placeholder for item and unit codes the supplier left out.
const notQualified = "nqr"

// ServiceUnitCode is the unit code of the single synthetic service line.
const ServiceUnitCode = "service"

// ExtractionError reports a recognized document missing a required field.
type ExtractionError struct {
	Kind       Kind
	DocumentID string
	Field      string
	Err        error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("%s %q: field %s", e.Kind, e.DocumentID, e.Field)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + " is missing"
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Record is one admissible document: its header and at least one line.
// BatchSequence is left at zero for the orchestrator to stamp.
type Record struct {
	Header models.InvoiceHeader
	Lines  []models.InvoiceLine
}

// Stamp sets the batch sequence on the header and every line.
func (r *Record) Stamp(batchSequence float64) {
	r.Header.BatchSequence = batchSequence
	for i := range r.Lines {
		r.Lines[i].BatchSequence = batchSequence
	}
}

// Admissible reports whether a record may be written: a writable kind and a
// non-empty document id.
func (r *Record) Admissible() bool {
	if r == nil || r.Header.DocumentID == "" {
		return false
	}
	return r.Header.Kind == KindInvoice.String() || r.Header.Kind == KindService.String()
}

// DescribeLines builds the header's long description from the line items.
func DescribeLines(lines []models.InvoiceLine) string {
	parts := make([]string, 0, len(lines)+1)
	parts = append(parts, fmt.Sprintf("Description of %d line items:", len(lines)))
	for _, l := range lines {
		parts = append(parts, l.ItemDescription)
	}
	for i := range parts {
		parts[i] = CleanText(parts[i])
	}
	return strings.Join(parts, "; ")
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// normalizeDate logs unparseable dates and keeps the best-effort value.
func normalizeDate(logger *slog.Logger, field, value string) string {
	out, err := NormalizeDateTime(value)
	if err != nil {
		logger.Warn("Could not normalize date, keeping raw value.", "field", field, "value", value, "error", err)
	}
	return out
}

// DocumentID returns the fiscal key of the invoice, empty when absent.
func (d *InvoiceDocument) DocumentID() string {
	return d.info().Value("_Id")
}

func (d *InvoiceDocument) info() *Node {
	return d.root.Path("NFe", "infNFe")
}

// Items returns every detail item, one element for a single <det>.
func (d *InvoiceDocument) Items() []*Node {
	return d.info().All("det")
}

// Extract maps an NFe into a header and its line items.
func (d *InvoiceDocument) Extract(logger *slog.Logger) (*Record, error) {
	logger = loggerOrDefault(logger)
	info := d.info()
	if info == nil {
		return nil, &ExtractionError{Kind: KindInvoice, Field: "NFe/infNFe"}
	}
	id := d.DocumentID()
	if id == "" {
		return nil, fmt.Errorf("%w: invoice without fiscal key", ErrNotAdmissible)
	}
	logger = logger.With("documentId", id)

	issuedRaw := info.Value("ide/dhEmi")
	if issuedRaw == "" {
		issuedRaw = info.Value("ide/dEmi")
	}
	issued := normalizeDate(logger, "dhEmi", issuedRaw)
	due := issued
	if dups := info.Child("cobr").All("dup"); len(dups) > 0 {
		if v := dups[0].Value("dVenc"); v != "" {
			due = normalizeDate(logger, "dVenc", v)
		}
	}

	total, err := ParseAmount(info.Value("total/ICMSTot/vNF"))
	if err != nil {
		return nil, &ExtractionError{Kind: KindInvoice, DocumentID: id, Field: "vNF", Err: err}
	}

	lines, err := d.lines(id)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &ExtractionError{Kind: KindInvoice, DocumentID: id, Field: "det"}
	}

	emit := info.Child("emit")
	header := models.InvoiceHeader{
		DocumentID:            id,
		IssuedAt:              issued,
		DueAt:                 due,
		Kind:                  KindInvoice.String(),
		SupplierID:            invoiceSupplierID(emit),
		SupplierDisplayName:   firstNonEmpty(emit.Value("xFant"), emit.Value("xNome")),
		SupplierInvoiceNumber: info.Value("ide/nNF"),
		TotalAmount:           total.InexactFloat64(),
		LongDescription:       DescribeLines(lines),
	}
	if header.SupplierID == "" {
		logger.Warn("Invoice has neither CNPJ nor CPF for the issuer.")
	}
	return &Record{Header: header, Lines: lines}, nil
}

func (d *InvoiceDocument) lines(id string) ([]models.InvoiceLine, error) {
	var lines []models.InvoiceLine
	for _, det := range d.Items() {
		nItem := det.Value("_nItem")
		if nItem == "" {
			continue
		}
		lineNo, err := strconv.Atoi(nItem)
		if err != nil {
			return nil, &ExtractionError{Kind: KindInvoice, DocumentID: id, Field: "det/nItem", Err: err}
		}
		prod := det.Child("prod")
		price, err := ParseAmount(prod.Value("vUnCom"))
		if err != nil {
			return nil, &ExtractionError{Kind: KindInvoice, DocumentID: id, Field: fmt.Sprintf("det[%d]/vUnCom", lineNo), Err: err}
		}
		lineTotal, err := ParseAmount(prod.Value("vProd"))
		if err != nil {
			return nil, &ExtractionError{Kind: KindInvoice, DocumentID: id, Field: fmt.Sprintf("det[%d]/vProd", lineNo), Err: err}
		}
		qty := decimal.Zero
		if raw := prod.Value("qCom"); raw != "" {
			if qty, err = ParseAmount(raw); err != nil {
				return nil, &ExtractionError{Kind: KindInvoice, DocumentID: id, Field: fmt.Sprintf("det[%d]/qCom", lineNo), Err: err}
			}
		}
		lines = append(lines, models.InvoiceLine{
			DocumentID:      id,
			LineNumber:      lineNo,
			ItemCode:        firstNonEmpty(prod.Value("cProd"), notQualified),
			ItemDescription: CleanText(prod.Value("xProd")),
			TaxCode:         prod.Value("CFOP"),
			UnitCode:        firstNonEmpty(prod.Value("uCom"), notQualified),
			UnitQuantity:    qty.InexactFloat64(),
			UnitPrice:       RoundUp4(price),
			LineTotal:       RoundUp4(lineTotal),
		})
	}
	return lines, nil
}

func invoiceSupplierID(emit *Node) string {
	if cnpj := emit.Value("CNPJ"); cnpj != "" {
		return "CNPJ-" + cnpj
	}
	if cpf := emit.Value("CPF"); cpf != "" {
		return "CPF-" + cpf
	}
	return ""
}

func (d *ServiceDocument) info() *Node {
	return d.root.Path("Nfse", "InfNfse")
}

// DocumentID synthesizes Nfse<number>; NFSe has no national fiscal key.
func (d *ServiceDocument) DocumentID() string {
	number := d.info().Value("Numero")
	if number == "" {
		return ""
	}
	return "Nfse" + number
}

// Extract maps an NFSe into a header and one synthetic line.
func (d *ServiceDocument) Extract(logger *slog.Logger) (*Record, error) {
	logger = loggerOrDefault(logger)
	info := d.info()
	if info == nil {
		return nil, &ExtractionError{Kind: KindService, Field: "Nfse/InfNfse"}
	}
	id := d.DocumentID()
	if id == "" {
		return nil, fmt.Errorf("%w: service invoice without number", ErrNotAdmissible)
	}
	logger = logger.With("documentId", id)

	issued := normalizeDate(logger, "DataEmissao", info.Value("DataEmissao"))

	value, err := ParseAmount(info.Value("Servico/Valores/ValorLiquidoNfse"))
	if err != nil {
		return nil, &ExtractionError{Kind: KindService, DocumentID: id, Field: "ValorLiquidoNfse", Err: err}
	}
	amount := value.InexactFloat64()

	line := models.InvoiceLine{
		DocumentID:      id,
		LineNumber:      1,
		ItemCode:        info.Value("Servico/ItemListaServico"),
		ItemDescription: CleanText(info.Value("Servico/Discriminacao")),
		TaxCode:         info.Value("Servico/CodigoTributacaoMunicipio"),
		UnitCode:        ServiceUnitCode,
		UnitQuantity:    1,
		UnitPrice:       amount,
		LineTotal:       amount,
	}
	lines := []models.InvoiceLine{line}

	provider := info.Child("PrestadorServico")
	header := models.InvoiceHeader{
		DocumentID:            id,
		IssuedAt:              issued,
		DueAt:                 issued,
		Kind:                  KindService.String(),
		SupplierID:            serviceSupplierID(provider),
		SupplierDisplayName:   firstNonEmpty(provider.Value("NomeFantasia"), provider.Value("RazaoSocial")),
		SupplierInvoiceNumber: info.Value("Numero"),
		TotalAmount:           amount,
		LongDescription:       DescribeLines(lines),
	}
	if header.SupplierID == "" {
		logger.Warn("Service invoice has no provider CNPJ.")
	}
	return &Record{Header: header, Lines: lines}, nil
}

func serviceSupplierID(provider *Node) string {
	ident := provider.Child("IdentificacaoPrestador")
	cnpj := firstNonEmpty(ident.Value("Cnpj"), ident.Value("CpfCnpj/Cnpj"))
	if cnpj == "" {
		return ""
	}
	return "CNPJ-" + cnpj
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ExtractDocument classifies a parsed document and extracts it when its kind
// allows. Event and unknown documents return ErrNotAdmissible.
func ExtractDocument(doc *Document, logger *slog.Logger) (*Record, Kind, error) {
	c := Classify(doc)
	ex, ok := c.(Extractable)
	if !ok {
		return nil, c.Kind(), fmt.Errorf("%w: kind %s", ErrNotAdmissible, c.Kind())
	}
	rec, err := ex.Extract(logger)
	if err != nil {
		return nil, c.Kind(), err
	}
	if !rec.Admissible() {
		return nil, c.Kind(), fmt.Errorf("%w: empty document id", ErrNotAdmissible)
	}
	return rec, c.Kind(), nil
}
