package sriclient

import "strings"

// isTemporal implements the transient-message heuristic from spec.md §4.5:
// an SRI message is classified as temporal (and therefore retried) when its
// identifier or text contains TIMEOUT, CONEXION, or SERVICIO. Everything
// else SRI returns is a permanent business-rule rejection.
func isTemporal(identificador, texto string) bool {
	upper := strings.ToUpper(identificador + " " + texto)
	for _, kw := range []string{"TIMEOUT", "CONEXION", "SERVICIO"} {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}
