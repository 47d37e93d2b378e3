package nfe

import (
	"errors"
	"log/slog"
)

// Kind is the closed set of document kinds the pipeline recognizes.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvoice
	KindEvent
	KindService
)

// Root elements that identify each kind.
const (
	rootInvoice = "nfeProc"
	rootEvent   = "procEventoNFe"
	rootService = "CompNfse"
)

func (k Kind) String() string {
	switch k {
	case KindInvoice:
		return "invoice"
	case KindEvent:
		return "event"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// ErrNotAdmissible marks a document that is recognized but must never reach
// the warehouse. It is an expected skip, not a failure.
var ErrNotAdmissible = errors.New("document not admissible")

// Classified is the result of classification. Only *InvoiceDocument and
// *ServiceDocument implement Extractable.
type Classified interface {
	Kind() Kind
	classified()
}

// Extractable is a classified document with extraction rules.
type Extractable interface {
	Classified
	Extract(logger *slog.Logger) (*Record, error)
}

// InvoiceDocument is a processed NFe (nfeProc).
type InvoiceDocument struct {
	root *Node
}

// ServiceDocument is a compiled NFSe (CompNfse).
type ServiceDocument struct {
	root *Node
}

// EventDocument is a processed NFe event (procEventoNFe). Recognized, never written.
type EventDocument struct {
	root *Node
}

// UnknownDocument is anything else.
type UnknownDocument struct {
	RootName string
}

func (*InvoiceDocument) Kind() Kind { return KindInvoice }
func (*ServiceDocument) Kind() Kind { return KindService }
func (*EventDocument) Kind() Kind   { return KindEvent }
func (*UnknownDocument) Kind() Kind { return KindUnknown }

func (*InvoiceDocument) classified() {}
func (*ServiceDocument) classified() {}
func (*EventDocument) classified()   {}
func (*UnknownDocument) classified() {}

// Classify assigns a kind from the document element, in priority order
// invoice, event, service. A malformed tree classifies as unknown.
func Classify(doc *Document) (c Classified) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Classification failed, treating as unknown.", "panic", r)
			c = &UnknownDocument{}
		}
	}()
	if doc == nil || doc.Root == nil {
		return &UnknownDocument{}
	}

	root := doc.Root
	switch root.Name {
	case rootInvoice:
		return &InvoiceDocument{root: root}
	case rootEvent:
		return &EventDocument{root: root}
	case rootService:
		return &ServiceDocument{root: root}
	}
	return &UnknownDocument{RootName: root.Name}
}
