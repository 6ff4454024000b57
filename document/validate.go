package document

import (
	"regexp"
	"strconv"

	"sri-emisor-go/apperror"
	"sri-emisor-go/models"
)

var rucDigits = regexp.MustCompile(`^\d{13}$`)

// validateRecord adapts Bjohan23-api-sunat-esta-si/validator/validaciones.go's
// field-by-field style to SRI's rules: RUC width, ambiente/tipoEmision
// enums, buyer identification-type width, and the item/payment shape
// invariants from spec.md §3.
func validateRecord(rec models.InvoiceRecord) error {
	if err := validateEmisor(rec.Emisor); err != nil {
		return err
	}
	if rec.Ambiente != models.AmbientePruebas && rec.Ambiente != models.AmbienteProduccion {
		return apperror.New(apperror.KindInvalidInput, "ambiente", "must be 1 (pruebas) or 2 (produccion)")
	}
	if rec.TipoEmision != models.TipoEmisionNormal {
		return apperror.New(apperror.KindInvalidInput, "tipoEmision", "must be 1 (NORMAL)")
	}
	if len(rec.Secuencial) != 9 {
		return apperror.New(apperror.KindInvalidInput, "secuencial", "must be 9 digits")
	}
	if err := validateComprador(rec.Comprador); err != nil {
		return err
	}
	if len(rec.Items) == 0 {
		return apperror.New(apperror.KindInvalidInput, "items", "at least one item is required")
	}
	for i, it := range rec.Items {
		if err := validateItem(it, i); err != nil {
			return err
		}
	}
	for i, p := range rec.Pagos {
		if p.FormaPago == "" {
			return apperror.New(apperror.KindInvalidInput, "pagos", indexField(i, "formaPago is required"))
		}
	}
	return nil
}

func validateEmisor(e models.Emisor) error {
	if !rucDigits.MatchString(e.RUC) {
		return apperror.New(apperror.KindInvalidInput, "ruc", "must be 13 digits")
	}
	if e.RazonSocial == "" {
		return apperror.New(apperror.KindInvalidInput, "razonSocial", "required")
	}
	if e.DireccionMatriz == "" && e.DireccionEstablecimiento == "" {
		return apperror.New(apperror.KindInvalidInput, "direccion", "matrix and establishment address are both blank")
	}
	if len(e.CodigoEstablecimiento) != 3 {
		return apperror.New(apperror.KindInvalidInput, "codigoEstablecimiento", "must be 3 digits")
	}
	if len(e.PuntoEmision) != 3 {
		return apperror.New(apperror.KindInvalidInput, "puntoEmision", "must be 3 digits")
	}
	return nil
}

var identificacionTiposValidos = map[models.TipoIdentificacion]bool{
	models.IdentificacionRUC:            true,
	models.IdentificacionCedula:         true,
	models.IdentificacionPasaporte:      true,
	models.IdentificacionConsumidorFinal: true,
}

func validateComprador(c models.Comprador) error {
	if !identificacionTiposValidos[c.TipoIdentificacion] {
		return apperror.New(apperror.KindInvalidInput, "tipoIdentificacionComprador", "unrecognized identification type")
	}
	if c.Identificacion == "" {
		return apperror.New(apperror.KindInvalidInput, "identificacionComprador", "required")
	}
	if c.TipoIdentificacion == models.IdentificacionRUC && len(c.Identificacion) != 13 {
		return apperror.New(apperror.KindInvalidInput, "identificacionComprador", "RUC buyer identification must be 13 digits")
	}
	if c.TipoIdentificacion == models.IdentificacionCedula && len(c.Identificacion) != 10 {
		return apperror.New(apperror.KindInvalidInput, "identificacionComprador", "cedula buyer identification must be 10 digits")
	}
	if c.RazonSocial == "" {
		return apperror.New(apperror.KindInvalidInput, "razonSocialComprador", "required")
	}
	return nil
}

func validateItem(it models.Item, index int) error {
	if it.Descripcion == "" {
		return apperror.New(apperror.KindInvalidInput, "descripcion", indexField(index, "required"))
	}
	if it.Cantidad <= 0 {
		return apperror.New(apperror.KindInvalidInput, "cantidad", indexField(index, "must be greater than 0"))
	}
	if it.PrecioUnitario < 0 {
		return apperror.New(apperror.KindInvalidInput, "precioUnitario", indexField(index, "must not be negative"))
	}
	for _, tx := range it.Impuestos {
		if tx.Codigo == "" {
			return apperror.New(apperror.KindInvalidInput, "impuestos.codigo", indexField(index, "required"))
		}
	}
	return nil
}

func indexField(i int, msg string) string {
	return "item " + strconv.Itoa(i) + ": " + msg
}
