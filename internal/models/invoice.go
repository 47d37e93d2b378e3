package models

// InvoiceHeader is one warehouse row per admitted fiscal document.
// Column names follow the existing BigQuery tables.
type InvoiceHeader struct {
	DocumentID            string  `bigquery:"nfeId" json:"nfeId"`
	IssuedAt              string  `bigquery:"dateTime" json:"dateTime"`
	DueAt                 string  `bigquery:"dateDue" json:"dateDue"`
	SupplierID            string  `bigquery:"supplierId" json:"supplierId"`
	SupplierInvoiceNumber string  `bigquery:"supplierInvoiceId" json:"supplierInvoiceId"`
	SupplierDisplayName   string  `bigquery:"supplierName" json:"supplierName"`
	Kind                  string  `bigquery:"nfeType" json:"nfeType"`
	TotalAmount           float64 `bigquery:"invoiceTotal" json:"invoiceTotal"`
	LongDescription       string  `bigquery:"verboseDescription" json:"verboseDescription"`
	BatchSequence         float64 `bigquery:"batchSequence" json:"batchSequence"`
}

// InvoiceLine is one warehouse row per line item of an admitted document.
type InvoiceLine struct {
	DocumentID      string  `bigquery:"nfeId" json:"nfeId"`
	LineNumber      int     `bigquery:"lineNo" json:"lineNo"`
	ItemCode        string  `bigquery:"itemCode" json:"itemCode"`
	ItemDescription string  `bigquery:"itemDesc" json:"itemDesc"`
	TaxCode         string  `bigquery:"cfop" json:"cfop"`
	UnitCode        string  `bigquery:"unitCode" json:"unitCode"`
	UnitQuantity    float64 `bigquery:"unitQty" json:"unitQty"`
	UnitPrice       float64 `bigquery:"unitPrice" json:"unitPrice"`
	LineTotal       float64 `bigquery:"lineTotal" json:"lineTotal"`
	BatchSequence   float64 `bigquery:"batchSequence" json:"batchSequence"`
}
