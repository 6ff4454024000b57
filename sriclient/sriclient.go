// Package sriclient drives the SRI reception and authorization SOAP
// services: submit a signed comprobante, poll until a terminal
// authorization state, persist the artifact observed at each state
// transition, and expose an independent out-of-band lookup. Grounded on
// jhoicas-Inventario-api/internal/infrastructure/dian's
// SOAPDIANClient/DIANSubmitter split (a small interface-shaped transport
// plus a typed result), generalized from DIAN's single submit-zip call to
// SRI's two-service submit/poll state machine (spec.md §4.5).
package sriclient

import (
	"context"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jonboulle/clockwork"

	"sri-emisor-go/apperror"
	"sri-emisor-go/keyaccess"
	"sri-emisor-go/logging"
	"sri-emisor-go/models"
)

const perCallTimeout = 30 * time.Second

// RetryPolicy bounds one operation's retry budget (spec.md §4.5).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var (
	SubmitRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 3 * time.Second}
	PollRetryPolicy   = RetryPolicy{MaxAttempts: 5, Backoff: 3 * time.Second}
	LookupRetryPolicy = RetryPolicy{MaxAttempts: 2, Backoff: 2 * time.Second}
)

// ErrNotFound is returned by Lookup when the authorization service has no
// terminal result yet (spec.md §4.5: "lookup(...) → AuthorizationRecord |
// NotFound").
var ErrNotFound = apperror.New(apperror.KindSriProtocol, "claveAcceso", "comprobante not found or still processing")

// ProcessOptions configures ProcessOneShot's wait between submit and the
// first poll.
type ProcessOptions struct {
	TiempoEspera time.Duration // default 2s if zero
}

// Client drives the two SRI SOAP services. Clock is injectable so
// inter-attempt backoff sleeps are deterministic in tests; submitFunc and
// pollFunc are injectable so tests exercise the retry/state-machine logic
// without a live HTTP round trip, the way jhoicas's DIANSubmitter
// interface lets tests swap in a mock submitter.
type Client struct {
	http           *retryablehttp.Client
	clock          clockwork.Clock
	persist        *persister
	logger         *logging.Logger
	perCallTimeout time.Duration

	submitFunc func(ctx context.Context, url string, signedXML []byte) (*models.ReceptionResult, error)
	pollFunc   func(ctx context.Context, url string, claveAcceso string) (*models.AuthorizationRecord, error)
}

// NewClient builds a Client persisting artifacts under baseDir
// ("comprobantes" in production). logger may be nil, in which case a no-op
// logger is used.
func NewClient(baseDir string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 1
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 1 * time.Second
	hc.Logger = nil
	hc.HTTPClient.Timeout = perCallTimeout

	c := &Client{
		http:           hc,
		clock:          clockwork.NewRealClock(),
		persist:        newPersister(baseDir),
		logger:         logger,
		perCallTimeout: perCallTimeout,
	}
	c.submitFunc = func(ctx context.Context, url string, xmlBytes []byte) (*models.ReceptionResult, error) {
		return submitRequest(ctx, c.http, url, xmlBytes)
	}
	c.pollFunc = func(ctx context.Context, url string, clave string) (*models.AuthorizationRecord, error) {
		return pollRequest(ctx, c.http, url, clave)
	}
	return c
}

func (c *Client) warn(op string, attempt int, err error) {
	c.logger.Warn().Str("op", op).Int("attempt", attempt).Err(err).Msg("retrying SRI call")
}

// sleep blocks for d or until ctx is cancelled, whichever comes first.
// Returns false if ctx was cancelled first (spec.md §5: cancellation during
// a backoff sleep must not proceed to the next attempt).
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func messagesAreTemporal(msgs []models.Mensaje) bool {
	for _, m := range msgs {
		if isTemporal(m.Identificador, m.Mensaje) {
			return true
		}
	}
	return false
}

// Submit calls validarComprobante, retrying per policy on transport
// failure or on a DEVUELTA response whose messages classify as temporal
// (spec.md §4.5). A permanent DEVUELTA is returned as a non-error result;
// only transport/protocol failures after the retry budget are returned as
// errors.
func (c *Client) Submit(ctx context.Context, signedXML []byte, env models.Ambiente, policy RetryPolicy) (*models.ReceptionResult, error) {
	eps, err := endpointsFor(env)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
		result, err := c.submitFunc(callCtx, eps.recepcion, signedXML)
		cancel()

		if err != nil {
			lastErr = err
			if !apperror.KindOf(err).Retryable() || attempt == policy.MaxAttempts {
				return nil, err
			}
			c.warn("submit", attempt, err)
			if !c.sleep(ctx, policy.Backoff) {
				return nil, ctx.Err()
			}
			continue
		}

		if result.Estado == "RECIBIDA" {
			return result, nil
		}
		// DEVUELTA: retry only if classified temporal and attempts remain.
		if attempt < policy.MaxAttempts && messagesAreTemporal(result.Mensajes) {
			c.warn("submit", attempt, apperror.New(apperror.KindTemporalSri, "estado", "DEVUELTA classified as temporal"))
			if !c.sleep(ctx, policy.Backoff) {
				return nil, ctx.Err()
			}
			continue
		}
		return result, nil
	}
	return nil, lastErr
}

// Poll calls autorizacionComprobante, retrying per policy on transport
// failure and always retrying on EN_PROCESO (spec.md §4.5). Returns
// SriProtocolError if the comprobante is still EN_PROCESO after the retry
// budget is exhausted.
func (c *Client) Poll(ctx context.Context, claveAcceso string, env models.Ambiente, policy RetryPolicy) (*models.AuthorizationRecord, error) {
	eps, err := endpointsFor(env)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
		rec, err := c.pollFunc(callCtx, eps.autorizacion, claveAcceso)
		cancel()

		if err != nil {
			lastErr = err
			if !apperror.KindOf(err).Retryable() || attempt == policy.MaxAttempts {
				return nil, err
			}
			c.warn("poll", attempt, err)
			if !c.sleep(ctx, policy.Backoff) {
				return nil, ctx.Err()
			}
			continue
		}

		if rec.State == models.EstadoEnProceso {
			if attempt == policy.MaxAttempts {
				return nil, apperror.New(apperror.KindSriProtocol, "estado", "still EN_PROCESO after exhausting poll attempts")
			}
			c.warn("poll", attempt, apperror.New(apperror.KindTemporalSri, "estado", "EN_PROCESO"))
			if !c.sleep(ctx, policy.Backoff) {
				return nil, ctx.Err()
			}
			continue
		}
		return rec, nil
	}
	return nil, lastErr
}

// Lookup queries the authorization service independently of any reception
// call, with the shorter retry budget in spec.md §4.5. Returns ErrNotFound
// if the comprobante is still EN_PROCESO after the budget is exhausted,
// rather than the SriProtocolError Poll would raise in that situation —
// an out-of-band query finding nothing yet is not itself a protocol
// failure.
func (c *Client) Lookup(ctx context.Context, claveAcceso string, env models.Ambiente) (*models.AuthorizationRecord, error) {
	if !keyaccess.Validate(keyaccess.AccessKey(claveAcceso)) {
		return nil, apperror.New(apperror.KindInvalidInput, "claveAcceso", "not a valid 49-digit access key")
	}
	rec, err := c.Poll(ctx, claveAcceso, env, LookupRetryPolicy)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindSriProtocol {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ProcessOneShot orchestrates submit → wait → poll → persist for one
// comprobante, returning the final outcome rather than an exception for
// any SRI-surfaced rejection (spec.md §4.5, §7). claveAcceso must already
// be embedded in signedXML; it is also the persistence key.
func (c *Client) ProcessOneShot(ctx context.Context, signedXML []byte, claveAcceso string, env models.Ambiente, opts ProcessOptions) (*models.FinalResult, error) {
	if !keyaccess.Validate(keyaccess.AccessKey(claveAcceso)) {
		return nil, apperror.New(apperror.KindInvalidInput, "claveAcceso", "not a valid 49-digit access key")
	}
	wait := opts.TiempoEspera
	if wait <= 0 {
		wait = 2 * time.Second
	}

	now := c.clock.Now()
	if _, err := c.persist.write(models.EstadoFirmado, claveAcceso, signedXML, now); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransportError).WithField("persist:firmado")
	}

	result, err := c.Submit(ctx, signedXML, env, SubmitRetryPolicy)
	if err != nil {
		c.persist.write(models.EstadoError, claveAcceso, signedXML, c.clock.Now())
		return &models.FinalResult{Success: false, State: models.EstadoError, ClaveAcceso: claveAcceso}, err
	}

	if result.Estado != "RECIBIDA" {
		// DEVUELTA: permanent rejection at reception, terminal, not an error.
		c.persist.write(models.EstadoRechazado, claveAcceso, signedXML, c.clock.Now())
		return &models.FinalResult{
			Success:     false,
			State:       models.EstadoRechazado,
			ClaveAcceso: claveAcceso,
		}, nil
	}

	if _, err := c.persist.write(models.EstadoRecibido, claveAcceso, signedXML, c.clock.Now()); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransportError).WithField("persist:recibido")
	}

	if !c.sleep(ctx, wait) {
		return &models.FinalResult{Success: false, State: models.EstadoRecibido, ClaveAcceso: claveAcceso}, ctx.Err()
	}

	auth, err := c.Poll(ctx, claveAcceso, env, PollRetryPolicy)
	if err != nil {
		c.persist.write(models.EstadoError, claveAcceso, signedXML, c.clock.Now())
		return &models.FinalResult{Success: false, State: models.EstadoError, ClaveAcceso: claveAcceso}, err
	}

	artifact := signedXML
	if len(auth.AuthorizedXML) > 0 {
		artifact = auth.AuthorizedXML
	}
	if _, err := c.persist.write(auth.State, claveAcceso, artifact, c.clock.Now()); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrTransportError).WithField("persist:" + string(auth.State))
	}

	return &models.FinalResult{
		Success:       auth.State == models.EstadoAutorizado,
		State:         auth.State,
		ClaveAcceso:   claveAcceso,
		Authorization: auth,
	}, nil
}
