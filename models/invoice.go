// Package models holds the normalized data model the pipeline operates on:
// the invoice record the caller supplies, and the state/result types the
// pipeline produces. Field names follow SRI's own terminology (Spanish)
// the way the teacher repo names its SUNAT fields, since these are the
// literal XML element names downstream.
package models

// Ambiente enumerates the SRI environment.
type Ambiente int

const (
	AmbientePruebas     Ambiente = 1
	AmbienteProduccion  Ambiente = 2
)

// TipoEmision enumerates the emission type. Only NORMAL is defined today.
type TipoEmision int

const TipoEmisionNormal TipoEmision = 1

// TipoIdentificacion enumerates the buyer identification type.
type TipoIdentificacion string

const (
	IdentificacionRUC            TipoIdentificacion = "04"
	IdentificacionCedula         TipoIdentificacion = "05"
	IdentificacionPasaporte      TipoIdentificacion = "06"
	IdentificacionConsumidorFinal TipoIdentificacion = "07"
)

// Emisor is the taxpayer identity embedded in every comprobante.
type Emisor struct {
	RUC                     string
	RazonSocial             string
	NombreComercial         string
	DireccionMatriz         string
	DireccionEstablecimiento string
	CodigoEstablecimiento   string
	PuntoEmision            string
	ObligadoContabilidad    bool
}

// Comprador is the buyer on the comprobante.
type Comprador struct {
	TipoIdentificacion TipoIdentificacion
	Identificacion     string
	RazonSocial        string
	Direccion          string
	Email              string
	Telefono           string
}

// Impuesto is a tax line attached to an item or to the document totals.
type Impuesto struct {
	Codigo           string // 2 = IVA
	CodigoPorcentaje string // 0, 2, 3, 8 ...
	Tarifa           string // two-decimal percentage text; derived if empty
	BaseImponible    float64
	Valor            float64
}

// Item is one invoice line.
type Item struct {
	CodigoPrincipal        string
	Descripcion            string
	Cantidad               float64
	PrecioUnitario         float64
	Descuento              float64
	PrecioTotalSinImpuesto float64 // validated against the derived value, never trusted alone
	Impuestos              []Impuesto
}

// Pago is a single payment line. If the caller supplies none, DocumentBuilder
// synthesizes {FormaPago: "01", Total: ImporteTotal}.
type Pago struct {
	FormaPago string
	Total     float64
	Plazo     int
	UnidadTiempo string
}

// InvoiceRecord is the normalized input to the pipeline.
type InvoiceRecord struct {
	Emisor        Emisor
	Ambiente      Ambiente
	TipoEmision   TipoEmision
	Secuencial    string // 9 digits, zero-padded
	FechaEmision  string // YYYY-MM-DD, calendar date in America/Guayaquil
	Comprador     Comprador
	Items         []Item
	Pagos         []Pago
	Moneda        string // always "DOLAR"
	Propina       float64
	InfoAdicional map[string]string
}

// TotalImpuesto is one row of the grouped totalConImpuestos aggregate.
type TotalImpuesto struct {
	Codigo           string
	CodigoPorcentaje string
	BaseImponible    float64
	Valor            float64
}
