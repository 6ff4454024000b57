package sriclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"sri-emisor-go/apperror"
	"sri-emisor-go/models"
)

// soapEnvelope/soapBody mirror the SOAP 1.1 shape jhoicas-Inventario-api's
// dian.soapEnvelope uses: a generic body wrapper so request and response
// payloads share one envelope type (spec.md §6).
type soapEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	XmlnsS  string   `xml:"xmlns:soapenv,attr"`
	Body    soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

const soapNS = "http://schemas.xmlsoap.org/soap/envelope/"

// validarComprobanteRequest wraps the signed document as the single `xml`
// parameter the reception service's validarComprobante method takes
// (spec.md §6). The bytes are base64-encoded the way SOAP toolkits encode
// xsd:base64Binary parameters.
type validarComprobanteRequest struct {
	XMLName xml.Name `xml:"ns:validarComprobante"`
	Xmlns   string   `xml:"xmlns:ns,attr"`
	XML     string   `xml:"xml"`
}

type autorizacionComprobanteRequest struct {
	XMLName         xml.Name `xml:"ns:autorizacionComprobante"`
	Xmlns           string   `xml:"xmlns:ns,attr"`
	ClaveAcceso     string   `xml:"claveAccesoComprobante"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

type mensajeXML struct {
	Identificador         string `xml:"identificador"`
	Mensaje               string `xml:"mensaje"`
	InformacionAdicional  string `xml:"informacionAdicional"`
	Tipo                  string `xml:"tipo"`
}

type recepcionResponseEnvelope struct {
	Body struct {
		RespuestaRecepcionComprobante *struct {
			Estado       string `xml:"estado"`
			Comprobantes struct {
				Comprobante []struct {
					Mensajes struct {
						Mensaje []mensajeXML `xml:"mensaje"`
					} `xml:"mensajes"`
				} `xml:"comprobante"`
			} `xml:"comprobantes"`
		} `xml:"RespuestaRecepcionComprobanteResponse>RespuestaRecepcionComprobante"`
		Fault *soapFault `xml:"Fault"`
	} `xml:"Body"`
}

type autorizacionResponseEnvelope struct {
	Body struct {
		RespuestaAutorizacionComprobante *struct {
			Autorizaciones struct {
				Autorizacion []struct {
					Estado              string `xml:"estado"`
					NumeroAutorizacion  string `xml:"numeroAutorizacion"`
					FechaAutorizacion   string `xml:"fechaAutorizacion"`
					Comprobante         string `xml:"comprobante"`
					Mensajes            struct {
						Mensaje []mensajeXML `xml:"mensaje"`
					} `xml:"mensajes"`
				} `xml:"autorizacion"`
			} `xml:"autorizaciones"`
		} `xml:"RespuestaAutorizacionComprobanteResponse>RespuestaAutorizacionComprobante"`
		Fault *soapFault `xml:"Fault"`
	} `xml:"Body"`
}

// postSOAP sends envelope to url via the retrying HTTP transport and
// returns the raw response bytes. A single retryablehttp.Client instance
// is shared across calls (see Client.http); its own RetryMax absorbs
// transport-level hiccups (connection reset, 5xx) within one logical
// attempt, independent of the outer per-operation retry policy in
// sriclient.go that re-issues the whole SOAP call on classified SRI failures
// (spec.md §4.5, §5).
func postSOAP(ctx context.Context, httpClient *retryablehttp.Client, url, soapAction string, payload interface{}) ([]byte, error) {
	env := soapEnvelope{XmlnsS: soapNS, Body: soapBody{Content: payload}}
	body, err := xml.Marshal(env)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransportError).WithField("marshal")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransportError).WithField("request")
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", soapAction)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransportError).WithField("url")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransportError).WithField("read")
	}
	return raw, nil
}

func submitRequest(ctx context.Context, httpClient *retryablehttp.Client, url string, signedXML []byte) (*models.ReceptionResult, error) {
	req := validarComprobanteRequest{
		Xmlns: "http://ec.gob.sri.ws.recepcion",
		XML:   base64.StdEncoding.EncodeToString(signedXML),
	}
	raw, err := postSOAP(ctx, httpClient, url, "", req)
	if err != nil {
		return nil, err
	}

	var env recepcionResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, apperror.New(apperror.KindSriProtocol, "body", fmt.Sprintf("unparseable reception response: %v", err))
	}
	if env.Body.Fault != nil {
		return nil, apperror.New(apperror.KindTransportError, "fault", env.Body.Fault.FaultCode+": "+env.Body.Fault.FaultString)
	}
	resp := env.Body.RespuestaRecepcionComprobante
	if resp == nil || resp.Estado == "" {
		return nil, apperror.New(apperror.KindSriProtocol, "estado", "reception response missing RespuestaRecepcionComprobante/estado")
	}

	result := &models.ReceptionResult{Estado: resp.Estado}
	for _, c := range resp.Comprobantes.Comprobante {
		for _, m := range c.Mensajes.Mensaje {
			result.Mensajes = append(result.Mensajes, models.Mensaje{
				Identificador:         m.Identificador,
				Mensaje:               m.Mensaje,
				InformacionAdicional:  m.InformacionAdicional,
				Tipo:                  m.Tipo,
			})
		}
	}
	return result, nil
}

func pollRequest(ctx context.Context, httpClient *retryablehttp.Client, url, claveAcceso string) (*models.AuthorizationRecord, error) {
	req := autorizacionComprobanteRequest{
		Xmlns:       "http://ec.gob.sri.ws.autorizacion",
		ClaveAcceso: claveAcceso,
	}
	raw, err := postSOAP(ctx, httpClient, url, "", req)
	if err != nil {
		return nil, err
	}

	var env autorizacionResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, apperror.New(apperror.KindSriProtocol, "body", fmt.Sprintf("unparseable authorization response: %v", err))
	}
	if env.Body.Fault != nil {
		return nil, apperror.New(apperror.KindTransportError, "fault", env.Body.Fault.FaultCode+": "+env.Body.Fault.FaultString)
	}
	resp := env.Body.RespuestaAutorizacionComprobante
	if resp == nil || len(resp.Autorizaciones.Autorizacion) == 0 {
		return &models.AuthorizationRecord{State: models.EstadoEnProceso}, nil
	}

	auth := resp.Autorizaciones.Autorizacion[0]
	rec := &models.AuthorizationRecord{
		AuthorizationNumber:    auth.NumeroAutorizacion,
		AuthorizationTimestamp: auth.FechaAutorizacion,
	}
	for _, m := range auth.Mensajes.Mensaje {
		rec.Messages = append(rec.Messages, models.Mensaje{
			Identificador:        m.Identificador,
			Mensaje:              m.Mensaje,
			InformacionAdicional: m.InformacionAdicional,
			Tipo:                 m.Tipo,
		})
	}
	switch auth.Estado {
	case "AUTORIZADO":
		rec.State = models.EstadoAutorizado
		rec.AuthorizedXML = []byte(auth.Comprobante)
	case "EN PROCESO", "EN_PROCESO":
		rec.State = models.EstadoEnProceso
	default: // NO AUTORIZADO, RECHAZADA, or anything else SRI might return
		rec.State = models.EstadoRechazado
	}
	return rec, nil
}
