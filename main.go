/*
Emisor de Comprobantes Electrónicos SRI (Ecuador)
==================================================

Punto de entrada de referencia para el motor de emisión: lee un
InvoiceRecord en JSON, genera la clave de acceso, construye el XML de la
factura v1.1.0, la firma con el certificado PKCS#12 del contribuyente, la
envía a los servicios SOAP del SRI y persiste el resultado.

El disparador real (HTTP, CLI rico, cron) es un colaborador externo fuera
de este núcleo; este main demuestra el cableado completo del pipeline de
punta a punta con el disparador mínimo posible: un archivo JSON.

Flujo:
1. Cargar configuración desde variables de entorno (.env)
2. Cargar credencial PKCS#12 (certificado + llave privada del titular)
3. Leer el InvoiceRecord de entrada
4. Generar la clave de acceso de 49 dígitos
5. Construir el XML de la factura v1.1.0
6. Firmar el XML con XML-DSIG
7. Enviar a SRI (recepción + autorización) y persistir el resultado
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"sri-emisor-go/config"
	"sri-emisor-go/credential"
	"sri-emisor-go/document"
	"sri-emisor-go/keyaccess"
	"sri-emisor-go/logging"
	"sri-emisor-go/models"
	"sri-emisor-go/signature"
	"sri-emisor-go/sriclient"
)

func main() {
	inputPath := flag.String("invoice", "", "path to a JSON-encoded InvoiceRecord (required)")
	outDir := flag.String("out", "comprobantes", "base directory for persisted comprobante artifacts")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "uso: sri-emisor-go -invoice factura.json")
		os.Exit(2)
	}

	if err := run(*inputPath, *outDir); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(inputPath, outDir string) error {
	// PASO 1: configuración
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cargando configuración: %w", err)
	}

	logger, err := logging.New(logging.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, LogDir: cfg.LogDir})
	if err != nil {
		return fmt.Errorf("inicializando logger: %w", err)
	}
	logger.Info().Str("ambiente", fmt.Sprintf("%d", cfg.Ambiente)).Msg("iniciando pipeline de emisión")

	// PASO 2: credencial PKCS#12
	credStore := credential.NewStore()
	cred, err := credStore.Load(credential.Source{
		Path:       cfg.Certificado.Path,
		Base64Blob: cfg.Certificado.Base64,
	}, cfg.Certificado.Passphrase)
	if err != nil {
		return fmt.Errorf("cargando credencial: %w", err)
	}
	defer cred.Close()
	logger.Info().Str("titular", cred.RUCTitular).Msg("credencial cargada")

	// PASO 3: InvoiceRecord de entrada
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("leyendo %s: %w", inputPath, err)
	}
	var rec models.InvoiceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("parseando InvoiceRecord: %w", err)
	}

	fechaEmision, err := time.Parse("2006-01-02", rec.FechaEmision)
	if err != nil {
		return fmt.Errorf("fechaEmision inválida: %w", err)
	}

	// PASO 4: clave de acceso
	keyBuilder := keyaccess.NewBuilder()
	key, err := keyBuilder.Generate(keyaccess.Params{
		Date:            fechaEmision,
		DocType:         "01",
		RUC:             rec.Emisor.RUC,
		Ambiente:        int(rec.Ambiente),
		Establecimiento: rec.Emisor.CodigoEstablecimiento,
		PuntoEmision:    rec.Emisor.PuntoEmision,
		Secuencial:      rec.Secuencial,
		TipoEmision:     1,
	})
	if err != nil {
		return fmt.Errorf("generando clave de acceso: %w", err)
	}
	logger.With().Str("claveAcceso", key.String()).Logger().Info().Msg("clave de acceso generada")

	// PASO 5: XML de la factura
	docBuilder := document.NewBuilder()
	xmlBytes, err := docBuilder.BuildFactura(rec, key)
	if err != nil {
		return fmt.Errorf("construyendo XML: %w", err)
	}

	// PASO 6: firma XML-DSIG
	signer := signature.NewSigner()
	signed, err := signer.Sign(xmlBytes, cred)
	if err != nil {
		return fmt.Errorf("firmando XML: %w", err)
	}
	logger.Sri().Str("claveAcceso", signed.ClaveAcceso).Msg("XML firmado")

	// PASO 7: envío a SRI y persistencia
	client := sriclient.NewClient(outDir, logger)
	ctx := context.Background()
	result, err := client.ProcessOneShot(ctx, signed.XML, signed.ClaveAcceso, models.Ambiente(cfg.Ambiente), sriclient.ProcessOptions{})
	if err != nil {
		logger.Error().Err(err).Str("claveAcceso", signed.ClaveAcceso).Msg("el pipeline terminó con error")
		return err
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	logger.Info().Str("estado", string(result.State)).Bool("exitoso", result.Success).Msg("pipeline completado")
	if !result.Success {
		return fmt.Errorf("comprobante no autorizado: estado final %s", result.State)
	}
	return nil
}
