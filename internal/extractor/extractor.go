// =============================================================================
// SRI Receipts - Document Extractor
// =============================================================================
//
// The Extractor turns retrieved documents into flat ReceiptRecords.
//
// DOCUMENT FORMAT:
//   A retrieved document is an authorization envelope. Its "comprobante"
//   element carries the receipt itself as text (usually CDATA): a complete
//   XML document in the receipt schema, possibly namespace-qualified.
//
//     <autorizacion>
//       <estado>AUTORIZADO</estado>
//       <numeroAutorizacion>...</numeroAutorizacion>
//       <comprobante><![CDATA[<?xml ...?><factura>...</factura>]]></comprobante>
//     </autorizacion>
//
// PARSE STAGES:
//   1. Envelope  : decode the envelope and take the first "comprobante" text.
//   2. Receipt   : parse that text as its own document into a Node tree.
//   3. Normalize : strip namespaces from every element name.
//   4. Lookup    : header fields by local name, first match in document
//                  order; one record per line item element.
//
// LINE ITEMS:
//   | Receipt root          | Line item element                |
//   |-----------------------|----------------------------------|
//   | notaDebito            | motivo                           |
//   | comprobanteRetencion  | retencion (v2), impuesto (v1)    |
//   | any other             | detalle                          |
//
//   Withholding lines put the rate in Quantity, the taxable base in Unit
//   Price and the withheld amount in Line Subtotal.
//
// VALUES:
//   Values are raw trimmed text. Amounts keep the document's formatting.
//
// =============================================================================

package extractor

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"github.com/ginjaninja78/sri-receipts/internal/types"
)

var (
	// ErrMalformedEnvelope is returned when the envelope is not valid XML.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrMalformedReceipt is returned when the embedded receipt is not
	// valid XML.
	ErrMalformedReceipt = errors.New("malformed receipt")
)

// PayloadElement is the envelope element carrying the receipt text.
const PayloadElement = "comprobante"

// LineItemElement is the line item element of invoices, credit notes,
// purchase settlements and waybills.
const LineItemElement = "detalle"

// =============================================================================
// FIELD LOOKUP TABLES
// =============================================================================

// field maps a record field to the element names that may carry it, in
// order of preference. Receipt types name some fields differently.
type field struct {
	aliases []string
	set     func(*types.ReceiptRecord, string)
}

var headerFields = []field{
	{[]string{"ruc"}, func(r *types.ReceiptRecord, v string) { r.IssuerID = v }},
	{[]string{"razonSocial"}, func(r *types.ReceiptRecord, v string) { r.IssuerName = v }},
	{[]string{
		"razonSocialComprador",
		"razonSocialProveedor",
		"razonSocialSujetoRetenido",
		"razonSocialDestinatario",
	}, func(r *types.ReceiptRecord, v string) { r.CounterpartyName = v }},
	{[]string{
		"identificacionComprador",
		"identificacionProveedor",
		"identificacionSujetoRetenido",
		"identificacionDestinatario",
	}, func(r *types.ReceiptRecord, v string) { r.CounterpartyID = v }},
	{[]string{"fechaEmision"}, func(r *types.ReceiptRecord, v string) { r.IssueDate = v }},
	{[]string{"totalSinImpuestos"}, func(r *types.ReceiptRecord, v string) { r.Subtotal = v }},
	{[]string{"totalImpuesto/valor", "valor"}, func(r *types.ReceiptRecord, v string) { r.TaxAmount = v }},
	{[]string{"importeTotal", "valorModificacion", "valorTotal"}, func(r *types.ReceiptRecord, v string) { r.Total = v }},
}

// lineItem names a line item element and the fields read from it.
type lineItem struct {
	element string
	fields  []field
}

var detailItem = lineItem{LineItemElement, []field{
	{[]string{"codigoPrincipal", "codigoInterno"}, func(r *types.ReceiptRecord, v string) { r.ItemCode = v }},
	{[]string{"descripcion"}, func(r *types.ReceiptRecord, v string) { r.ItemDescription = v }},
	{[]string{"cantidad"}, func(r *types.ReceiptRecord, v string) { r.Quantity = v }},
	{[]string{"precioUnitario"}, func(r *types.ReceiptRecord, v string) { r.UnitPrice = v }},
	{[]string{"precioTotalSinImpuesto"}, func(r *types.ReceiptRecord, v string) { r.LineSubtotal = v }},
}}

var reasonItem = lineItem{"motivo", []field{
	{[]string{"razon"}, func(r *types.ReceiptRecord, v string) { r.ItemDescription = v }},
	{[]string{"valor"}, func(r *types.ReceiptRecord, v string) { r.LineSubtotal = v }},
}}

var withholdingFields = []field{
	{[]string{"codigoRetencion", "codigo"}, func(r *types.ReceiptRecord, v string) { r.ItemCode = v }},
	{[]string{"numDocSustento"}, func(r *types.ReceiptRecord, v string) { r.ItemDescription = v }},
	{[]string{"porcentajeRetener"}, func(r *types.ReceiptRecord, v string) { r.Quantity = v }},
	{[]string{"baseImponible"}, func(r *types.ReceiptRecord, v string) { r.UnitPrice = v }},
	{[]string{"valorRetenido"}, func(r *types.ReceiptRecord, v string) { r.LineSubtotal = v }},
}

// lineItems lists the line item candidates per receipt root element, in
// order of preference. The first candidate present in the receipt is used.
var lineItems = map[string][]lineItem{
	"notaDebito": {reasonItem},
	"comprobanteRetencion": {
		{"retencion", withholdingFields},
		{"impuesto", withholdingFields},
	},
}

func lineItemsOf(root *Node) (lineItem, []*Node) {
	candidates, ok := lineItems[root.Name()]
	if !ok {
		candidates = []lineItem{detailItem}
	}
	for _, candidate := range candidates {
		if nodes := root.FindAll(candidate.element); len(nodes) > 0 {
			return candidate, nodes
		}
	}
	return candidates[0], nil
}

func (f field) apply(root *Node, rec *types.ReceiptRecord) {
	for _, alias := range f.aliases {
		if n := root.Lookup(alias); n != nil {
			f.set(rec, n.Value())
			return
		}
	}
}

// =============================================================================
// PARSING
// =============================================================================

// Parse extracts the records of one document.
//
// PARAMETERS:
//   - name: The document name, recorded as each record's Source.
//   - data: The envelope bytes.
//
// RETURNS:
//   - One record per line item, in document order. Empty when the envelope
//     carries no receipt or the receipt has no line items.
//   - ErrMalformedEnvelope or ErrMalformedReceipt when a stage fails.
func Parse(name string, data []byte) ([]types.ReceiptRecord, error) {
	payload, err := Payload(data)
	if err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, nil
	}

	root, err := ParseReceipt(payload)
	if err != nil {
		return nil, err
	}
	StripNamespaces(root)

	return Records(name, root), nil
}

// Payload returns the receipt text carried by an envelope, or "" when the
// envelope has no (or an empty) payload element.
func Payload(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || localName(start.Name.Local) != PayloadElement {
			continue
		}

		var content struct {
			Text  string `xml:",chardata"`
			Inner string `xml:",innerxml"`
		}
		if err := dec.DecodeElement(&content, &start); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if text := strings.TrimSpace(content.Text); strings.HasPrefix(text, "<") {
			return text, nil
		}
		// Some envelopes embed the receipt as markup rather than text.
		return strings.TrimSpace(content.Inner), nil
	}
}

// ParseReceipt parses receipt text into a Node tree.
func ParseReceipt(text string) (*Node, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	// The text is already decoded; an encoding declaration only names the
	// original encoding of the envelope.
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var root Node
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReceipt, err)
	}
	return &root, nil
}

// Records builds one record per line item of a normalized receipt tree.
func Records(source string, root *Node) []types.ReceiptRecord {
	// The root element may itself be a lookup target, so search from a
	// synthetic parent.
	doc := &Node{Children: []*Node{root}}

	var header types.ReceiptRecord
	for _, f := range headerFields {
		f.apply(doc, &header)
	}
	header.Source = source

	kind, items := lineItemsOf(root)
	records := make([]types.ReceiptRecord, 0, len(items))
	for i, item := range items {
		rec := header
		rec.Line = i + 1
		for _, f := range kind.fields {
			f.apply(item, &rec)
		}
		records = append(records, rec)
	}
	return records
}

// =============================================================================
// EXTRACTOR
// =============================================================================

// Source reads documents by name.
type Source interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// Stats summarises an extraction pass.
type Stats struct {
	Documents int
	Parsed    int
	Empty     int
	Failed    int
	Records   int

	// Failures lists the documents that could not be parsed.
	Failures []Failure
}

// Failure describes one document that could not be read or parsed.
type Failure struct {
	File string
	Err  error
}

// Extractor reads documents from a Source and extracts their records.
type Extractor struct {
	src Source
	log zerolog.Logger
}

// New creates an Extractor.
func New(src Source, logger zerolog.Logger) *Extractor {
	return &Extractor{
		src: src,
		log: logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract returns the records of one document. It never fails: a document
// that cannot be read or parsed is logged and yields no records.
func (e *Extractor) Extract(ctx context.Context, name string) []types.ReceiptRecord {
	records, err := e.extract(ctx, name)
	if err != nil {
		e.log.Error().Err(err).Str("file", name).Msg("Failed to extract document")
		return nil
	}
	return records
}

// ExtractAll extracts every named document, in order.
func (e *Extractor) ExtractAll(ctx context.Context, names []string) ([]types.ReceiptRecord, Stats) {
	var (
		all   []types.ReceiptRecord
		stats Stats
	)

	for _, name := range names {
		stats.Documents++

		records, err := e.extract(ctx, name)
		if err != nil {
			stats.Failed++
			stats.Failures = append(stats.Failures, Failure{File: name, Err: err})
			e.log.Error().Err(err).Str("file", name).Msg("Failed to extract document")
			continue
		}

		if len(records) == 0 {
			stats.Empty++
			e.log.Warn().Str("file", name).Msg("Document has no line items")
			continue
		}

		stats.Parsed++
		stats.Records += len(records)
		all = append(all, records...)
		e.log.Debug().Str("file", name).Int("records", len(records)).Msg("Document extracted")
	}

	e.log.Info().
		Int("documents", stats.Documents).
		Int("records", stats.Records).
		Int("empty", stats.Empty).
		Int("failed", stats.Failed).
		Msg("Extraction complete")

	return all, stats
}

func (e *Extractor) extract(ctx context.Context, name string) ([]types.ReceiptRecord, error) {
	data, err := e.src.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return Parse(name, data)
}
