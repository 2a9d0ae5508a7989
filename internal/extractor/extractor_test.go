package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ginjaninja78/sri-receipts/internal/types"
)

const invoiceBody = `<infoTributaria>
    <ambiente>2</ambiente>
    <razonSocial>COMERCIAL ANDINA S.A.</razonSocial>
    <ruc>1790012345001</ruc>
    <claveAcceso>1503202401179001234500120010010000000011234567811</claveAcceso>
    <codDoc>01</codDoc>
  </infoTributaria>
  <infoFactura>
    <fechaEmision>15/03/2024</fechaEmision>
    <razonSocialComprador>JUAN PEREZ</razonSocialComprador>
    <identificacionComprador>0912345678</identificacionComprador>
    <totalSinImpuestos>30.00</totalSinImpuestos>
    <totalConImpuestos>
      <totalImpuesto>
        <codigo>2</codigo>
        <baseImponible>30.00</baseImponible>
        <valor>4.50</valor>
      </totalImpuesto>
    </totalConImpuestos>
    <importeTotal>34.50</importeTotal>
  </infoFactura>
  <detalles>
    <detalle>
      <codigoPrincipal>A-1</codigoPrincipal>
      <descripcion>Cuaderno</descripcion>
      <cantidad>2</cantidad>
      <precioUnitario>5.00</precioUnitario>
      <precioTotalSinImpuesto>10.00</precioTotalSinImpuesto>
      <impuestos><impuesto><valor>1.50</valor></impuesto></impuestos>
    </detalle>
    <detalle>
      <codigoPrincipal>B-2</codigoPrincipal>
      <descripcion>Lapiz</descripcion>
      <cantidad>10</cantidad>
      <precioUnitario>1.00</precioUnitario>
      <precioTotalSinImpuesto>10.00</precioTotalSinImpuesto>
    </detalle>
    <detalle>
      <codigoInterno>C-3</codigoInterno>
      <descripcion> Borrador </descripcion>
      <cantidad>5.000000</cantidad>
      <precioUnitario>2.000000</precioUnitario>
      <precioTotalSinImpuesto>10.00</precioTotalSinImpuesto>
    </detalle>
  </detalles>`

func envelope(receipt string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<autorizacion>
  <estado>AUTORIZADO</estado>
  <numeroAutorizacion>1503202401179001234500120010010000000011234567811</numeroAutorizacion>
  <comprobante><![CDATA[` + receipt + `]]></comprobante>
</autorizacion>`)
}

// invoice wraps the invoice body in the given root tags. When the root is
// "ns1:"-qualified every element of the body is qualified too.
func invoice(open, close string) string {
	body := invoiceBody
	if strings.Contains(open, "ns1:") {
		body = strings.NewReplacer("</", "</ns1:", "<", "<ns1:").Replace(body)
	}
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + open + body + close
}

func expectedInvoice(source string) []types.ReceiptRecord {
	header := types.ReceiptRecord{
		IssuerID:         "1790012345001",
		IssuerName:       "COMERCIAL ANDINA S.A.",
		CounterpartyName: "JUAN PEREZ",
		CounterpartyID:   "0912345678",
		IssueDate:        "15/03/2024",
		Subtotal:         "30.00",
		TaxAmount:        "4.50",
		Total:            "34.50",
		Source:           source,
	}
	items := []struct{ code, desc, qty, price, total string }{
		{"A-1", "Cuaderno", "2", "5.00", "10.00"},
		{"B-2", "Lapiz", "10", "1.00", "10.00"},
		{"C-3", "Borrador", "5.000000", "2.000000", "10.00"},
	}
	var out []types.ReceiptRecord
	for i, it := range items {
		rec := header
		rec.ItemCode = it.code
		rec.ItemDescription = it.desc
		rec.Quantity = it.qty
		rec.UnitPrice = it.price
		rec.LineSubtotal = it.total
		rec.Line = i + 1
		out = append(out, rec)
	}
	return out
}

func TestParseInvoice(t *testing.T) {
	data := envelope(invoice(`<factura id="comprobante" version="1.1.0">`, `</factura>`))

	records, err := Parse("document_1.xml", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(expectedInvoice("document_1.xml"), records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParseNamespaceTolerance(t *testing.T) {
	variants := map[string][]byte{
		"plain":    envelope(invoice(`<factura id="comprobante">`, `</factura>`)),
		"prefixed": envelope(invoice(`<ns1:factura xmlns:ns1="http://www.sri.gob.ec/factura" id="comprobante">`, `</ns1:factura>`)),
		"default":  envelope(invoice(`<factura xmlns="urn:sri:factura:v2" xmlns:ds="http://www.w3.org/2000/09/xmldsig#">`, `</factura>`)),
		"other":    envelope(invoice(`<ns1:factura xmlns:ns1="urn:other">`, `</ns1:factura>`)),
	}

	want := expectedInvoice("doc")
	for name, data := range variants {
		t.Run(name, func(t *testing.T) {
			records, err := Parse("doc", data)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if diff := cmp.Diff(want, records); diff != "" {
				t.Fatalf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseEscapedPayload(t *testing.T) {
	receipt := invoice(`<factura>`, `</factura>`)
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(receipt)
	data := []byte(`<autorizacion><comprobante>` + escaped + `</comprobante></autorizacion>`)

	records, err := Parse("doc", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
}

func TestParseInlinePayload(t *testing.T) {
	data := []byte(`<autorizacion><comprobante>
<factura>` + invoiceBody + `</factura>
</comprobante></autorizacion>`)

	records, err := Parse("doc", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(expectedInvoice("doc"), records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLatin1Envelope(t *testing.T) {
	receipt := "<factura><infoTributaria><ruc>1790012345001</ruc><razonSocial>PANADER\xcdA LA PE\xd1A</razonSocial></infoTributaria>" +
		"<detalles><detalle><descripcion>Pan</descripcion></detalle></detalles></factura>"
	data := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><autorizacion><comprobante><![CDATA[` + receipt + `]]></comprobante></autorizacion>`)

	records, err := Parse("doc", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].IssuerName != "PANADERÍA LA PEÑA" {
		t.Fatalf("unexpected issuer name %q", records[0].IssuerName)
	}
}

func TestParseCreditNoteAliases(t *testing.T) {
	receipt := `<notaCredito id="comprobante">
  <infoTributaria><razonSocial>EMISOR</razonSocial><ruc>1790012345001</ruc></infoTributaria>
  <infoNotaCredito>
    <fechaEmision>01/04/2024</fechaEmision>
    <razonSocialComprador>CLIENTE</razonSocialComprador>
    <identificacionComprador>1712345678</identificacionComprador>
    <totalSinImpuestos>8.00</totalSinImpuestos>
    <valorModificacion>9.20</valorModificacion>
    <totalConImpuestos><totalImpuesto><valor>1.20</valor></totalImpuesto></totalConImpuestos>
  </infoNotaCredito>
  <detalles><detalle><codigoInterno>X</codigoInterno><descripcion>Devolucion</descripcion></detalle></detalles>
</notaCredito>`

	records, err := Parse("doc", envelope(receipt))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Total != "9.20" || rec.TaxAmount != "1.20" || rec.ItemCode != "X" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestParseDebitNoteReasons(t *testing.T) {
	receipt := `<notaDebito id="comprobante">
  <infoTributaria><razonSocial>EMISOR</razonSocial><ruc>1790012345001</ruc></infoTributaria>
  <infoNotaDebito>
    <fechaEmision>02/04/2024</fechaEmision>
    <razonSocialComprador>CLIENTE</razonSocialComprador>
    <identificacionComprador>1712345678</identificacionComprador>
    <totalSinImpuestos>3.00</totalSinImpuestos>
    <impuestos><impuesto><codigo>2</codigo><baseImponible>3.00</baseImponible><valor>0.36</valor></impuesto></impuestos>
    <valorTotal>3.36</valorTotal>
  </infoNotaDebito>
  <motivos>
    <motivo><razon>Interes por mora</razon><valor>2.00</valor></motivo>
    <motivo><razon>Gastos de cobranza</razon><valor>1.00</valor></motivo>
  </motivos>
</notaDebito>`

	records, err := Parse("doc", envelope(receipt))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	header := types.ReceiptRecord{
		IssuerID:         "1790012345001",
		IssuerName:       "EMISOR",
		CounterpartyName: "CLIENTE",
		CounterpartyID:   "1712345678",
		IssueDate:        "02/04/2024",
		Subtotal:         "3.00",
		TaxAmount:        "0.36",
		Total:            "3.36",
		Source:           "doc",
	}
	first, second := header, header
	first.Line, first.ItemDescription, first.LineSubtotal = 1, "Interes por mora", "2.00"
	second.Line, second.ItemDescription, second.LineSubtotal = 2, "Gastos de cobranza", "1.00"

	if diff := cmp.Diff([]types.ReceiptRecord{first, second}, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestParseWithholdingReceipt(t *testing.T) {
	tests := map[string]struct {
		receipt string
		want    [][3]string // code, rate, withheld
		doc     string
	}{
		"version 1": {
			receipt: `<comprobanteRetencion id="comprobante" version="1.0.0">
  <infoTributaria><razonSocial>AGENTE</razonSocial><ruc>1790012345001</ruc></infoTributaria>
  <infoCompRetencion>
    <fechaEmision>05/04/2024</fechaEmision>
    <razonSocialSujetoRetenido>PROVEEDOR</razonSocialSujetoRetenido>
    <identificacionSujetoRetenido>0990000000001</identificacionSujetoRetenido>
  </infoCompRetencion>
  <impuestos>
    <impuesto><codigo>1</codigo><codigoRetencion>312</codigoRetencion><baseImponible>100.00</baseImponible>
      <porcentajeRetener>1.75</porcentajeRetener><valorRetenido>1.75</valorRetenido>
      <codDocSustento>01</codDocSustento><numDocSustento>001001000000123</numDocSustento></impuesto>
    <impuesto><codigo>2</codigo><codigoRetencion>725</codigoRetencion><baseImponible>12.00</baseImponible>
      <porcentajeRetener>30</porcentajeRetener><valorRetenido>3.60</valorRetenido>
      <codDocSustento>01</codDocSustento><numDocSustento>001001000000123</numDocSustento></impuesto>
  </impuestos>
</comprobanteRetencion>`,
			want: [][3]string{{"312", "1.75", "1.75"}, {"725", "30", "3.60"}},
			doc:  "001001000000123",
		},
		"version 2": {
			receipt: `<comprobanteRetencion id="comprobante" version="2.0.0">
  <infoTributaria><razonSocial>AGENTE</razonSocial><ruc>1790012345001</ruc></infoTributaria>
  <infoCompRetencion>
    <fechaEmision>05/04/2024</fechaEmision>
    <razonSocialSujetoRetenido>PROVEEDOR</razonSocialSujetoRetenido>
    <identificacionSujetoRetenido>0990000000001</identificacionSujetoRetenido>
  </infoCompRetencion>
  <docsSustento><docSustento>
    <codDocSustento>01</codDocSustento><numDocSustento>001001000000123</numDocSustento>
    <importeTotal>112.00</importeTotal>
    <impuestosDocSustento><impuestoDocSustento><codImpuestoDocSustento>2</codImpuestoDocSustento>
      <baseImponible>100.00</baseImponible><valorImpuesto>12.00</valorImpuesto></impuestoDocSustento></impuestosDocSustento>
    <retenciones>
      <retencion><codigo>1</codigo><codigoRetencion>312</codigoRetencion><baseImponible>100.00</baseImponible>
        <porcentajeRetener>1.75</porcentajeRetener><valorRetenido>1.75</valorRetenido></retencion>
      <retencion><codigo>2</codigo><codigoRetencion>725</codigoRetencion><baseImponible>12.00</baseImponible>
        <porcentajeRetener>30</porcentajeRetener><valorRetenido>3.60</valorRetenido></retencion>
    </retenciones>
  </docSustento></docsSustento>
</comprobanteRetencion>`,
			want: [][3]string{{"312", "1.75", "1.75"}, {"725", "30", "3.60"}},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			records, err := Parse("doc", envelope(tt.receipt))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(records) != len(tt.want) {
				t.Fatalf("expected %d records, got %d", len(tt.want), len(records))
			}
			for i, rec := range records {
				if rec.CounterpartyName != "PROVEEDOR" || rec.CounterpartyID != "0990000000001" {
					t.Fatalf("unexpected counterparty: %+v", rec)
				}
				got := [3]string{rec.ItemCode, rec.Quantity, rec.LineSubtotal}
				if got != tt.want[i] {
					t.Fatalf("line %d: expected %v, got %v", i+1, tt.want[i], got)
				}
				if rec.ItemDescription != tt.doc {
					t.Fatalf("line %d: unexpected description %q", i+1, rec.ItemDescription)
				}
			}
		})
	}
}

func TestParseFirstMatchWins(t *testing.T) {
	receipt := `<factura>
  <infoTributaria><ruc>1111111111001</ruc></infoTributaria>
  <infoAdicional><campo><ruc>2222222222001</ruc></campo></infoAdicional>
  <detalles><detalle><descripcion>x</descripcion></detalle></detalles>
</factura>`

	records, err := Parse("doc", envelope(receipt))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if records[0].IssuerID != "1111111111001" {
		t.Fatalf("expected first ruc, got %q", records[0].IssuerID)
	}
}

func TestParseWithoutPayload(t *testing.T) {
	tests := map[string]string{
		"no element":    `<autorizacion><estado>NO AUTORIZADO</estado></autorizacion>`,
		"empty element": `<autorizacion><comprobante>  </comprobante></autorizacion>`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			records, err := Parse("doc", []byte(data))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(records) != 0 {
				t.Fatalf("expected no records, got %d", len(records))
			}
		})
	}
}

func TestParseWithoutLineItems(t *testing.T) {
	receipt := `<factura><infoTributaria><ruc>1790012345001</ruc></infoTributaria></factura>`
	records, err := Parse("doc", envelope(receipt))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"envelope", []byte(`<autorizacion><comprobante>`), ErrMalformedEnvelope},
		{"receipt", envelope(`<factura><detalles></factura>`), ErrMalformedReceipt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("doc", tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// mapSource serves documents from memory.
type mapSource map[string][]byte

func (m mapSource) Read(ctx context.Context, name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%s: not found", name)
	}
	return data, nil
}

func TestExtractAllIsolatesFailures(t *testing.T) {
	src := mapSource{
		"document_a.xml": envelope(invoice(`<factura>`, `</factura>`)),
		"document_b.xml": []byte(`not xml at all <`),
		"document_c.xml": []byte(`<autorizacion><estado>RECHAZADO</estado></autorizacion>`),
		"document_d.xml": envelope(invoice(`<factura>`, `</factura>`)),
	}
	names := []string{"document_a.xml", "document_b.xml", "document_missing.xml", "document_c.xml", "document_d.xml"}

	records, stats := New(src, zerolog.Nop()).ExtractAll(context.Background(), names)

	if len(records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(records))
	}
	if records[0].Source != "document_a.xml" || records[3].Source != "document_d.xml" {
		t.Fatalf("unexpected record order: %s, %s", records[0].Source, records[3].Source)
	}
	if stats.Documents != 5 || stats.Parsed != 2 || stats.Failed != 2 || stats.Empty != 1 || stats.Records != 6 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Failures[0].File != "document_b.xml" || stats.Failures[1].File != "document_missing.xml" {
		t.Fatalf("unexpected failures: %+v", stats.Failures)
	}
}

func TestExtractNeverFails(t *testing.T) {
	e := New(mapSource{"bad.xml": []byte("<")}, zerolog.Nop())
	if records := e.Extract(context.Background(), "bad.xml"); records != nil {
		t.Fatalf("expected no records, got %v", records)
	}
	if records := e.Extract(context.Background(), "absent.xml"); records != nil {
		t.Fatalf("expected no records, got %v", records)
	}
}

func TestStripNamespaces(t *testing.T) {
	root, err := ParseReceipt(`<a:root xmlns:a="urn:a" xmlns="urn:d" a:attr="1"><child/><a:child/></a:root>`)
	if err != nil {
		t.Fatalf("ParseReceipt: %v", err)
	}
	StripNamespaces(root)

	if root.XMLName.Space != "" || root.Name() != "root" {
		t.Fatalf("unexpected root name %+v", root.XMLName)
	}
	if len(root.Attrs) != 1 || root.Attrs[0].Name.Local != "attr" || root.Attrs[0].Name.Space != "" {
		t.Fatalf("unexpected attributes %+v", root.Attrs)
	}
	for _, c := range root.Children {
		if c.XMLName.Space != "" || c.Name() != "child" {
			t.Fatalf("unexpected child name %+v", c.XMLName)
		}
	}
}
