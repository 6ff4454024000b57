// Package keyaccess computes and validates the 49-digit SRI clave de
// acceso. Algorithm grounded the way jhoicas-Inventario-api/internal/domain/dian
// grounds the Colombian CUFE: a small pure calculator type. The date
// component comes from the caller's Params.Date, and the 8-digit numeric
// code source is injectable, so generation is deterministic in tests.
package keyaccess

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"sri-emisor-go/apperror"
)

// coeficientes is the SRI check-digit coefficient vector, cycled over the
// 48 base digits. This is the mandatory SRI-specific variant: positions
// map modulo-11 residues 11->0 and 10->1, not the generic MOD-11 mapping
// some implementations use (spec.md §9).
var coeficientes = [6]int{2, 3, 4, 5, 6, 7}

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// AccessKey is a validated 49-digit clave de acceso.
type AccessKey string

// String returns the raw 49-digit string.
func (k AccessKey) String() string { return string(k) }

// Builder generates and validates access keys. Clock is carried but not
// read by Generate or GenerateWithCode, which take the date from
// Params.Date. NumericCodeSource is injectable so tests can pin the
// 8-digit random component (spec.md §4.1: "source of
// non-determinism; treat as injectable for test").
type Builder struct {
	Clock             clockwork.Clock
	NumericCodeSource func() (string, error)
}

// NewBuilder returns a Builder using the real clock and crypto/rand.
func NewBuilder() *Builder {
	return &Builder{Clock: clockwork.NewRealClock(), NumericCodeSource: randomNumericCode}
}

func randomNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}

// Params are the inputs to Generate.
type Params struct {
	Date          time.Time // calendar date, only Y/M/D are used
	DocType       string    // 2 digits, e.g. "01" = factura
	RUC           string    // 13 digits
	Ambiente      int       // 1 or 2
	Establecimiento string  // 3 digits
	PuntoEmision  string    // 3 digits
	Secuencial    string    // up to 9 digits, left-padded if numeric
	TipoEmision   int       // 1 = NORMAL
}

// Generate builds a complete 49-digit AccessKey from Params, using the
// Builder's NumericCodeSource for the 8-digit random component.
func (b *Builder) Generate(p Params) (AccessKey, error) {
	code, err := b.NumericCodeSource()
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrInvalidInput).WithField("numericCode")
	}
	return b.GenerateWithCode(p, code)
}

// GenerateWithCode builds the key using an explicit 8-digit numeric code,
// bypassing NumericCodeSource, for callers that must reuse a known code
// (the tests use it to pin the key).
func (b *Builder) GenerateWithCode(p Params, numericCode string) (AccessKey, error) {
	if len(p.DocType) != 2 || !digitsOnly.MatchString(p.DocType) {
		return "", apperror.New(apperror.KindInvalidInput, "docType", "must be 2 digits")
	}
	if len(p.RUC) != 13 || !digitsOnly.MatchString(p.RUC) {
		return "", apperror.New(apperror.KindInvalidInput, "ruc", "must be 13 digits")
	}
	if p.Ambiente != 1 && p.Ambiente != 2 {
		return "", apperror.New(apperror.KindInvalidInput, "ambiente", "must be 1 or 2")
	}
	if len(p.Establecimiento) != 3 || !digitsOnly.MatchString(p.Establecimiento) {
		return "", apperror.New(apperror.KindInvalidInput, "establecimiento", "must be 3 digits")
	}
	if len(p.PuntoEmision) != 3 || !digitsOnly.MatchString(p.PuntoEmision) {
		return "", apperror.New(apperror.KindInvalidInput, "puntoEmision", "must be 3 digits")
	}
	serie := p.Establecimiento + p.PuntoEmision

	secuencial := p.Secuencial
	if len(secuencial) < 9 && digitsOnly.MatchString(secuencial) {
		n, err := strconv.Atoi(secuencial)
		if err == nil {
			secuencial = fmt.Sprintf("%09d", n)
		}
	}
	if len(secuencial) != 9 || !digitsOnly.MatchString(secuencial) {
		return "", apperror.New(apperror.KindInvalidInput, "secuencial", "must be 9 digits")
	}

	if len(numericCode) != 8 || !digitsOnly.MatchString(numericCode) {
		return "", apperror.New(apperror.KindInvalidInput, "numericCode", "must be 8 digits")
	}
	if p.TipoEmision != 1 {
		return "", apperror.New(apperror.KindInvalidInput, "tipoEmision", "must be 1 (NORMAL)")
	}

	base := fmt.Sprintf("%s%s%s%d%s%s%s%d",
		p.Date.Format("02012006"),
		p.DocType,
		p.RUC,
		p.Ambiente,
		serie,
		secuencial,
		numericCode,
		p.TipoEmision,
	)
	if len(base) != 48 {
		return "", apperror.New(apperror.KindInvalidInput, "base", fmt.Sprintf("assembled base is %d digits, want 48", len(base)))
	}

	check, err := CheckDigit(base)
	if err != nil {
		return "", err
	}
	return AccessKey(base + check), nil
}

// CheckDigit computes the SRI modulus-11 check digit over a 48-digit base.
//
// Algorithm: sum(digit[i] * coef[i % 6]) for i in [0,48), counting from the
// rightmost digit; m = sum mod 11; r = 11 - m. Emit "0" if r == 11 (i.e.
// m == 0), "1" if r == 10 (i.e. m == 1), else r. This {11->0, 10->1}
// mapping is mandatory and differs from generic MOD-11 variants that map
// both residues to 0 (spec.md §9).
func CheckDigit(base48 string) (string, error) {
	if len(base48) != 48 || !digitsOnly.MatchString(base48) {
		return "", apperror.New(apperror.KindInvalidInput, "base", "must be 48 digits")
	}
	sum := 0
	// Coefficients are applied starting from the rightmost digit of the base.
	for i := 0; i < 48; i++ {
		d := int(base48[47-i] - '0')
		c := coeficientes[i%6]
		sum += d * c
	}
	m := sum % 11
	r := 11 - m
	switch r {
	case 11:
		return "0", nil
	case 10:
		return "1", nil
	default:
		return fmt.Sprintf("%d", r), nil
	}
}

// Validate reports whether key is exactly 49 digits and its check digit
// matches the first 48.
func Validate(key AccessKey) bool {
	s := string(key)
	if len(s) != 49 || !digitsOnly.MatchString(s) {
		return false
	}
	check, err := CheckDigit(s[:48])
	if err != nil {
		return false
	}
	return check == s[48:]
}
