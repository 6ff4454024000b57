// Package document renders the canonical SRI factura v1.1.0 XML from a
// normalized invoice record. Struct-tag marshaling is grounded the way
// Bjohan23-api-sunat-esta-si/converters/boleta_factura.go builds its UBL
// Invoice: a tree of tagged structs fed to encoding/xml.Marshal, field
// order doubling as element order. Monetary arithmetic uses
// shopspring/decimal instead of float64 so the importeTotal invariant
// holds to the cent regardless of binary floating-point rounding.
package document

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"sri-emisor-go/apperror"
	"sri-emisor-go/keyaccess"
	"sri-emisor-go/models"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Builder renders InvoiceRecords into factura XML. Clock is injectable so
// the "clamp future dates to now-in-Ecuador" rule (spec.md §4.2, §9) is
// deterministic in tests.
type Builder struct {
	Clock clockwork.Clock
}

// NewBuilder returns a Builder using the real clock.
func NewBuilder() *Builder {
	return &Builder{Clock: clockwork.NewRealClock()}
}

// BuildFactura renders rec into UTF-8 factura v1.1.0 XML embedding key.
func (b *Builder) BuildFactura(rec models.InvoiceRecord, key keyaccess.AccessKey) ([]byte, error) {
	if !keyaccess.Validate(key) {
		return nil, apperror.New(apperror.KindInvalidInput, "claveAcceso", "not a valid 49-digit access key")
	}
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	clock := b.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	fechaEmision, err := resolveFechaEmision(rec.FechaEmision, clock)
	if err != nil {
		return nil, err
	}

	dirEstablecimiento := rec.Emisor.DireccionEstablecimiento
	if dirEstablecimiento == "" {
		dirEstablecimiento = rec.Emisor.DireccionMatriz
	}
	if dirEstablecimiento == "" {
		return nil, apperror.New(apperror.KindInvalidInput, "dirEstablecimiento", "both establishment and matrix address are blank")
	}

	det, totalSinImpuestos, totalImpuestosSum, totalConImpuestos, err := buildDetalles(rec.Items)
	if err != nil {
		return nil, err
	}

	totalDescuento := decimal.Zero
	for _, it := range rec.Items {
		totalDescuento = totalDescuento.Add(decimal.NewFromFloat(it.Descuento))
	}

	propina := decimal.NewFromFloat(rec.Propina)
	importeTotal := totalSinImpuestos.Sub(totalDescuento).Add(totalImpuestosSum).Add(propina)

	pagos := rec.Pagos
	if len(pagos) == 0 {
		pagos = []models.Pago{{FormaPago: "01", Total: round2(importeTotal).InexactFloat64()}}
	}

	obligado := "NO"
	if rec.Emisor.ObligadoContabilidad {
		obligado = "SI"
	}

	doc := factura{
		ID:      "comprobante",
		Version: "1.1.0",
		InfoTributaria: infoTributaria{
			Ambiente:        fmt.Sprintf("%d", rec.Ambiente),
			TipoEmision:     fmt.Sprintf("%d", rec.TipoEmision),
			RazonSocial:     sanitizeText(rec.Emisor.RazonSocial),
			NombreComercial: sanitizeText(rec.Emisor.NombreComercial),
			RUC:             rec.Emisor.RUC,
			ClaveAcceso:     key.String(),
			CodDoc:          "01",
			Estab:           rec.Emisor.CodigoEstablecimiento,
			PtoEmi:          rec.Emisor.PuntoEmision,
			Secuencial:      rec.Secuencial,
			DirMatriz:       sanitizeText(rec.Emisor.DireccionMatriz),
		},
		InfoFactura: infoFactura{
			FechaEmision:                fechaEmision,
			DirEstablecimiento:          sanitizeText(dirEstablecimiento),
			ObligadoContabilidad:        obligado,
			TipoIdentificacionComprador: string(rec.Comprador.TipoIdentificacion),
			RazonSocialComprador:        sanitizeText(rec.Comprador.RazonSocial),
			IdentificacionComprador:     rec.Comprador.Identificacion,
			TotalSinImpuestos:           formatMoney(totalSinImpuestos),
			TotalDescuento:              formatMoney(totalDescuento),
			TotalConImpuestos:           totalConImpuestos,
			Propina:                     formatMoney(propina),
			ImporteTotal:                formatMoney(importeTotal),
			Moneda:                      "DOLAR",
			Pagos:                       buildPagos(pagos),
		},
		Detalles: detalles{Detalle: det},
	}
	if len(rec.InfoAdicional) > 0 {
		doc.InfoAdicional = buildInfoAdicional(rec.InfoAdicional)
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrSchemaViolation)
	}
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.Write(body)
	return buf.Bytes(), nil
}

// resolveFechaEmision parses the caller-supplied calendar date and clamps
// it to now-in-Ecuador when it falls strictly in the future, per spec.md §9.
func resolveFechaEmision(fecha string, clock clockwork.Clock) (string, error) {
	d, err := time.ParseInLocation("2006-01-02", fecha, time.UTC)
	if err != nil {
		return "", apperror.New(apperror.KindInvalidInput, "fechaEmision", "must be YYYY-MM-DD")
	}
	nowEcuador := clock.Now().UTC().Add(time.Duration(guayaquilOffsetSeconds) * time.Second)
	nowDay := time.Date(nowEcuador.Year(), nowEcuador.Month(), nowEcuador.Day(), 0, 0, 0, 0, time.UTC)
	if d.After(nowDay) {
		d = nowDay
	}
	return d.Format("02/01/2006"), nil
}

func buildDetalles(items []models.Item) ([]detalle, decimal.Decimal, decimal.Decimal, []totalImpuesto, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, decimal.Zero, nil, apperror.New(apperror.KindInvalidInput, "items", "at least one item is required")
	}

	type aggKey struct{ codigo, codigoPorcentaje string }
	agg := map[aggKey]*totalImpuesto{}
	var order []aggKey

	det := make([]detalle, 0, len(items))
	totalSinImpuestos := decimal.Zero
	totalImpuestosSum := decimal.Zero

	for _, it := range items {
		cantidad := decimal.NewFromFloat(it.Cantidad)
		pu := decimal.NewFromFloat(it.PrecioUnitario)
		descuento := decimal.NewFromFloat(it.Descuento)
		derived := cantidad.Mul(pu).Sub(descuento)

		stored := decimal.NewFromFloat(it.PrecioTotalSinImpuesto)
		if !stored.IsZero() && stored.Sub(derived).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
			return nil, decimal.Zero, decimal.Zero, nil, apperror.New(apperror.KindInvalidInput, "precioTotalSinImpuesto",
				fmt.Sprintf("stored value %s diverges from derived %s by more than 1 cent", stored.StringFixed(2), derived.StringFixed(2)))
		}
		totalSinImpuestos = totalSinImpuestos.Add(derived)

		var imps []impuesto
		for _, tx := range it.Impuestos {
			tarifa := tx.Tarifa
			if tarifa == "" {
				tarifa = tarifaFor(tx.CodigoPorcentaje)
			}
			base := decimal.NewFromFloat(tx.BaseImponible)
			valor := decimal.NewFromFloat(tx.Valor)
			totalImpuestosSum = totalImpuestosSum.Add(valor)
			imps = append(imps, impuesto{
				Codigo:           tx.Codigo,
				CodigoPorcentaje: tx.CodigoPorcentaje,
				Tarifa:           tarifa,
				BaseImponible:    formatMoney(base),
				Valor:            formatMoney(valor),
			})

			k := aggKey{tx.Codigo, tx.CodigoPorcentaje}
			if _, ok := agg[k]; !ok {
				agg[k] = &totalImpuesto{Codigo: tx.Codigo, CodigoPorcentaje: tx.CodigoPorcentaje}
				order = append(order, k)
			}
			sum := agg[k]
			sumBase := mustParse(sum.BaseImponible).Add(base)
			sumValor := mustParse(sum.Valor).Add(valor)
			sum.BaseImponible = formatMoney(sumBase)
			sum.Valor = formatMoney(sumValor)
		}

		det = append(det, detalle{
			CodigoPrincipal:        sanitizeText(it.CodigoPrincipal),
			Descripcion:            sanitizeText(it.Descripcion),
			Cantidad:               formatQty(cantidad),
			PrecioUnitario:         formatMoney(pu),
			Descuento:              formatMoney(descuento),
			PrecioTotalSinImpuesto: formatMoney(derived),
			Impuestos:              imps,
		})
	}

	totals := make([]totalImpuesto, 0, len(order))
	for _, k := range order {
		totals = append(totals, *agg[k])
	}
	return det, totalSinImpuestos, totalImpuestosSum, totals, nil
}

// tarifaFor derives the percentage text for a codigoPorcentaje when the
// caller didn't supply one explicitly (spec.md §4.2).
func tarifaFor(codigoPorcentaje string) string {
	switch codigoPorcentaje {
	case "2":
		return "12.00"
	case "3":
		return "14.00"
	case "8":
		return "15.00"
	default:
		return "0.00"
	}
}

func buildPagos(pagos []models.Pago) []pago {
	out := make([]pago, 0, len(pagos))
	for _, p := range pagos {
		plazo := ""
		if p.Plazo > 0 {
			plazo = fmt.Sprintf("%d", p.Plazo)
		}
		out = append(out, pago{
			FormaPago:    p.FormaPago,
			Total:        formatMoney(decimal.NewFromFloat(p.Total)),
			Plazo:        plazo,
			UnidadTiempo: p.UnidadTiempo,
		})
	}
	return out
}

// buildInfoAdicional sorts keys so output is deterministic across calls,
// per the determinism rule in spec.md §4.2.
func buildInfoAdicional(fields map[string]string) *infoAdicional {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &infoAdicional{}
	for _, k := range keys {
		out.CampoAdicional = append(out.CampoAdicional, campoAdicional{
			Nombre: sanitizeText(k),
			Value:  sanitizeText(fields[k]),
		})
	}
	return out
}

func formatMoney(d decimal.Decimal) string {
	return round2(d).StringFixed(2)
}

func formatQty(d decimal.Decimal) string {
	return round2(d).StringFixed(2)
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func mustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
