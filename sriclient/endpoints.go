package sriclient

import (
	"sri-emisor-go/apperror"
	"sri-emisor-go/models"
)

// endpoints holds the fixed reception/authorization SOAP service URLs for
// one environment (spec.md §4.5, §6). Only the host differs between TEST
// and PROD; the ?wsdl suffix names the service description document, the
// SOAP POST target is the same URL without the query string.
type endpoints struct {
	recepcion     string
	autorizacion  string
}

var (
	testEndpoints = endpoints{
		recepcion:    "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline",
		autorizacion: "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline",
	}
	prodEndpoints = endpoints{
		recepcion:    "https://cel.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline",
		autorizacion: "https://cel.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline",
	}
)

func endpointsFor(env models.Ambiente) (endpoints, error) {
	switch env {
	case models.AmbientePruebas:
		return testEndpoints, nil
	case models.AmbienteProduccion:
		return prodEndpoints, nil
	default:
		return endpoints{}, apperror.New(apperror.KindInvalidEnvironment, "ambiente", "must be 1 (pruebas) or 2 (produccion)")
	}
}
