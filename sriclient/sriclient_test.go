package sriclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sri-emisor-go/apperror"
	"sri-emisor-go/keyaccess"
	"sri-emisor-go/logging"
	"sri-emisor-go/models"
)

func testKey(t *testing.T) string {
	t.Helper()
	b := keyaccess.NewBuilder()
	key, err := b.GenerateWithCode(keyaccess.Params{
		Date:            time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC),
		DocType:         "01",
		RUC:             "0918097783001",
		Ambiente:        1,
		Establecimiento: "001",
		PuntoEmision:    "001",
		Secuencial:      "1",
		TipoEmision:     1,
	}, "12345678")
	require.NoError(t, err)
	return string(key)
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return &Client{
		clock:          clockwork.NewRealClock(),
		persist:        newPersister(t.TempDir()),
		logger:         logging.Nop(),
		perCallTimeout: time.Second,
	}
}

func TestIsTemporal_Keywords(t *testing.T) {
	cases := []struct {
		name, id, msg string
		want          bool
	}{
		{"timeout identifier", "TIMEOUT-01", "", true},
		{"conexion in message", "45", "error de CONEXION con el servicio", true},
		{"servicio keyword", "99", "SERVICIO no disponible", true},
		{"lowercase still matches", "03", "conexion perdida", true},
		{"unrelated business rejection", "35", "RUC no existe", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, isTemporal(c.id, c.msg))
		})
	}
}

func TestEndpointsFor(t *testing.T) {
	_, err := endpointsFor(models.AmbientePruebas)
	require.NoError(t, err)
	_, err = endpointsFor(models.AmbienteProduccion)
	require.NoError(t, err)

	_, err = endpointsFor(models.Ambiente(9))
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidEnvironment, apperror.KindOf(err))
}

func TestPersister_WriteIsAtomic(t *testing.T) {
	p := newPersister(t.TempDir())
	clave := "123"
	ts := time.Date(2025, 8, 7, 10, 30, 0, 0, time.UTC)

	path, err := p.write(models.EstadoAutorizado, clave, []byte("<x/>"), ts)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<x/>", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "tmp file must not survive a successful write")

	assert.Contains(t, path, filepath.Join("autorizado"))
}

func TestSubmit_RetriesTransportErrorThenSucceeds(t *testing.T) {
	c := newTestClient(t)
	attempts := 0
	c.submitFunc = func(ctx context.Context, url string, xml []byte) (*models.ReceptionResult, error) {
		attempts++
		if attempts < 3 {
			return nil, apperror.Wrap(context.DeadlineExceeded, apperror.ErrTransportError)
		}
		return &models.ReceptionResult{Estado: "RECIBIDA"}, nil
	}

	result, err := c.Submit(context.Background(), []byte("<x/>"), models.AmbientePruebas, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "RECIBIDA", result.Estado)
	assert.Equal(t, 3, attempts)
}

func TestSubmit_FailsAfterExhaustingTransportRetries(t *testing.T) {
	c := newTestClient(t)
	attempts := 0
	c.submitFunc = func(ctx context.Context, url string, xml []byte) (*models.ReceptionResult, error) {
		attempts++
		return nil, apperror.Wrap(context.DeadlineExceeded, apperror.ErrTransportError)
	}

	_, err := c.Submit(context.Background(), []byte("<x/>"), models.AmbientePruebas, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, apperror.KindTransportError, apperror.KindOf(err))
	assert.Equal(t, 3, attempts)
}

func TestSubmit_RetriesTemporalDevueltaThenSucceeds(t *testing.T) {
	c := newTestClient(t)
	attempts := 0
	c.submitFunc = func(ctx context.Context, url string, xml []byte) (*models.ReceptionResult, error) {
		attempts++
		if attempts == 1 {
			return &models.ReceptionResult{
				Estado:   "DEVUELTA",
				Mensajes: []models.Mensaje{{Identificador: "TIMEOUT-99", Mensaje: "tiempo de espera agotado"}},
			}, nil
		}
		return &models.ReceptionResult{Estado: "RECIBIDA"}, nil
	}

	result, err := c.Submit(context.Background(), []byte("<x/>"), models.AmbientePruebas, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "RECIBIDA", result.Estado)
	assert.Equal(t, 2, attempts)
}

// TestSubmit_S5_PermanentDevueltaSurfacesImmediately exercises the DEVUELTA
// rejection scenario: a permanent business-rule rejection is returned as a
// non-error result on the first attempt, never retried.
func TestSubmit_S5_PermanentDevueltaSurfacesImmediately(t *testing.T) {
	c := newTestClient(t)
	attempts := 0
	c.submitFunc = func(ctx context.Context, url string, xml []byte) (*models.ReceptionResult, error) {
		attempts++
		return &models.ReceptionResult{
			Estado:   "DEVUELTA",
			Mensajes: []models.Mensaje{{Identificador: "35", Mensaje: "RUC no existe"}},
		}, nil
	}

	result, err := c.Submit(context.Background(), []byte("<x/>"), models.AmbientePruebas, SubmitRetryPolicy)
	require.NoError(t, err)
	assert.Equal(t, "DEVUELTA", result.Estado)
	assert.Equal(t, 1, attempts)
}

func TestPoll_RetriesEnProcesoThenAuthorized(t *testing.T) {
	c := newTestClient(t)
	attempts := 0
	c.pollFunc = func(ctx context.Context, url, clave string) (*models.AuthorizationRecord, error) {
		attempts++
		if attempts == 1 {
			return &models.AuthorizationRecord{State: models.EstadoEnProceso}, nil
		}
		return &models.AuthorizationRecord{
			State:               models.EstadoAutorizado,
			AuthorizationNumber: "AUTH-2",
			AuthorizedXML:       []byte("<signed/>"),
		}, nil
	}

	rec, err := c.Poll(context.Background(), "clave", models.AmbientePruebas, RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, models.EstadoAutorizado, rec.State)
	assert.Equal(t, "AUTH-2", rec.AuthorizationNumber)
	assert.Equal(t, 2, attempts)
}

func TestPoll_ExhaustsToSriProtocolError(t *testing.T) {
	c := newTestClient(t)
	c.pollFunc = func(ctx context.Context, url, clave string) (*models.AuthorizationRecord, error) {
		return &models.AuthorizationRecord{State: models.EstadoEnProceso}, nil
	}

	_, err := c.Poll(context.Background(), "clave", models.AmbientePruebas, RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, apperror.KindSriProtocol, apperror.KindOf(err))
}

func TestLookup_ReturnsNotFoundWhenStillProcessing(t *testing.T) {
	c := newTestClient(t)
	key := testKey(t)
	c.pollFunc = func(ctx context.Context, url, clave string) (*models.AuthorizationRecord, error) {
		return &models.AuthorizationRecord{State: models.EstadoEnProceso}, nil
	}

	_, err := c.Lookup(context.Background(), key, models.AmbientePruebas)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_RejectsMalformedAccessKey(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Lookup(context.Background(), "not-a-key", models.AmbientePruebas)
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidInput, apperror.KindOf(err))
}

// TestProcessOneShot_S5_RejectedAtReception mirrors the DEVUELTA scenario:
// reception rejects permanently, the pipeline stops without polling, and
// the signed artifact lands under comprobantes/rechazado.
func TestProcessOneShot_S5_RejectedAtReception(t *testing.T) {
	c := newTestClient(t)
	key := testKey(t)
	c.submitFunc = func(ctx context.Context, url string, xml []byte) (*models.ReceptionResult, error) {
		return &models.ReceptionResult{
			Estado:   "DEVUELTA",
			Mensajes: []models.Mensaje{{Identificador: "35", Mensaje: "RUC no existe"}},
		}, nil
	}
	polled := false
	c.pollFunc = func(ctx context.Context, url, clave string) (*models.AuthorizationRecord, error) {
		polled = true
		return &models.AuthorizationRecord{State: models.EstadoAutorizado}, nil
	}

	result, err := c.ProcessOneShot(context.Background(), []byte("<signed/>"), key, models.AmbientePruebas, ProcessOptions{TiempoEspera: time.Millisecond})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.EstadoRechazado, result.State)
	assert.False(t, polled, "a permanently rejected reception must never be polled")

	entries, err := os.ReadDir(filepath.Join(c.persist.baseDir, "rechazado"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestProcessOneShot_S6_AuthorizedAfterTwoPolls mirrors the two-poll
// authorization scenario: EN_PROCESO then AUTORIZADO, with the
// authorization number recorded from the second response and the
// authorized XML persisted.
func TestProcessOneShot_S6_AuthorizedAfterTwoPolls(t *testing.T) {
	c := newTestClient(t)
	key := testKey(t)
	c.submitFunc = func(ctx context.Context, url string, xml []byte) (*models.ReceptionResult, error) {
		return &models.ReceptionResult{Estado: "RECIBIDA"}, nil
	}
	pollAttempts := 0
	c.pollFunc = func(ctx context.Context, url, clave string) (*models.AuthorizationRecord, error) {
		pollAttempts++
		if pollAttempts == 1 {
			return &models.AuthorizationRecord{State: models.EstadoEnProceso}, nil
		}
		return &models.AuthorizationRecord{
			State:               models.EstadoAutorizado,
			AuthorizationNumber: "AUTH-FINAL",
			AuthorizedXML:       []byte("<authorized/>"),
		}, nil
	}

	result, err := c.ProcessOneShot(context.Background(), []byte("<signed/>"), key, models.AmbientePruebas, ProcessOptions{TiempoEspera: time.Millisecond})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.EstadoAutorizado, result.State)
	assert.Equal(t, 2, pollAttempts)
	require.NotNil(t, result.Authorization)
	assert.Equal(t, "AUTH-FINAL", result.Authorization.AuthorizationNumber)

	entries, err := os.ReadDir(filepath.Join(c.persist.baseDir, "autorizado"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(c.persist.baseDir, "autorizado", entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "<authorized/>", string(data))
}

func TestProcessOneShot_RejectsMalformedAccessKey(t *testing.T) {
	c := newTestClient(t)
	_, err := c.ProcessOneShot(context.Background(), []byte("<signed/>"), "bad-key", models.AmbientePruebas, ProcessOptions{})
	require.Error(t, err)
	assert.Equal(t, apperror.KindInvalidInput, apperror.KindOf(err))
}

func TestProcessOneShot_TransportFailureAtSubmitPersistsError(t *testing.T) {
	c := newTestClient(t)
	key := testKey(t)
	c.submitFunc = func(ctx context.Context, url string, xml []byte) (*models.ReceptionResult, error) {
		return nil, apperror.Wrap(context.DeadlineExceeded, apperror.ErrTransportError)
	}

	result, err := c.ProcessOneShot(context.Background(), []byte("<signed/>"), key, models.AmbientePruebas, ProcessOptions{TiempoEspera: time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, models.EstadoError, result.State)

	entries, err := os.ReadDir(filepath.Join(c.persist.baseDir, "error"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
