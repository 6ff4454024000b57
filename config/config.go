// Package config loads the taxpayer identity, environment, and certificate
// source the pipeline needs from environment variables (spec.md §6).
// Grounded on jhoicas-Inventario-api/pkg/config: spf13/viper for the
// env-var surface, layered over joho/godotenv (as the teacher's own
// config.go does) for local .env discovery.
package config

import (
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sri-emisor-go/apperror"
)

// Ambiente mirrors models.Ambiente without importing it, so config stays a
// leaf package; callers convert with models.Ambiente(cfg.Ambiente).
type Ambiente int

const (
	AmbientePruebas    Ambiente = 1
	AmbienteProduccion Ambiente = 2
)

// Emisor is the taxpayer identity every comprobante embeds.
type Emisor struct {
	RUC                      string
	RazonSocial              string
	NombreComercial          string
	DireccionMatriz          string
	DireccionEstablecimiento string
	CodigoEstablecimiento    string
	PuntoEmision             string
	ObligadoContabilidad     bool
}

// Certificado selects the PKCS#12 source: Base64 takes precedence over Path
// (spec.md §6, CERT_P12_BASE64 vs CERTIFICADO_PATH).
type Certificado struct {
	Path       string
	Base64     string
	Passphrase string
}

// Config is the full configuration surface enumerated in spec.md §6.
type Config struct {
	Ambiente          Ambiente
	Emisor            Emisor
	Certificado       Certificado
	ClockSkewTolerance int // seconds; SRI_CLOCK_SKEW_TOLERANCE, default 0 (spec.md §9)
	LogDir            string
	LogLevel          string
	LogEnv            string // "development" -> console logger, else JSON
}

// Load reads the configuration surface from the environment, falling back
// to a local .env file the way the teacher's config.Load does. Fails with
// InvalidInput when SRI_AMBIENTE is not "1" or "2" (spec.md §6).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	ambienteRaw := getString(v, "SRI_AMBIENTE", "1")
	var ambiente Ambiente
	switch ambienteRaw {
	case "1":
		ambiente = AmbientePruebas
	case "2":
		ambiente = AmbienteProduccion
	default:
		return nil, apperror.New(apperror.KindInvalidInput, "SRI_AMBIENTE", "must be \"1\" or \"2\", got "+ambienteRaw)
	}

	cfg := &Config{
		Ambiente: ambiente,
		Emisor: Emisor{
			RUC:                      getString(v, "EMPRESA_RUC", ""),
			RazonSocial:              getString(v, "EMPRESA_RAZON_SOCIAL", ""),
			NombreComercial:          getString(v, "EMPRESA_NOMBRE_COMERCIAL", ""),
			DireccionMatriz:          getString(v, "EMPRESA_DIRECCION_MATRIZ", ""),
			DireccionEstablecimiento: getString(v, "EMPRESA_DIRECCION_ESTABLECIMIENTO", ""),
			CodigoEstablecimiento:    getString(v, "EMPRESA_CODIGO_ESTABLECIMIENTO", "001"),
			PuntoEmision:             getString(v, "EMPRESA_PUNTO_EMISION", "001"),
			ObligadoContabilidad:     getString(v, "EMPRESA_OBLIGADO_CONTABILIDAD", "NO") == "SI",
		},
		Certificado: Certificado{
			Path:       getString(v, "CERTIFICADO_PATH", ""),
			Base64:     getString(v, "CERT_P12_BASE64", ""),
			Passphrase: getString(v, "CERTIFICADO_CLAVE", ""),
		},
		ClockSkewTolerance: getInt(v, "SRI_CLOCK_SKEW_TOLERANCE", 0),
		LogDir:             getString(v, "LOG_DIR", "logs"),
		LogLevel:           getString(v, "LOG_LEVEL", "info"),
		LogEnv:             getString(v, "APP_ENV", "production"),
	}

	if cfg.Certificado.Path == "" && cfg.Certificado.Base64 == "" {
		return nil, apperror.New(apperror.KindInvalidInput, "CERTIFICADO_PATH", "neither CERTIFICADO_PATH nor CERT_P12_BASE64 is set")
	}

	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(v.GetString(key))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}
