// API HTTP handlers.
//
// This file exposes the JSON API for authenticated apps:
//   - POST /requests      (ask a recipient for a secret)
//   - POST /unlock        (reveal a secret with its unlock key)
//   - GET  /devel/info    (development diagnostics; mounted only on demand)
//
// Apps authenticate with HTTP basic auth (see middleware.AppAuth).
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a request was already
// created under that key, the original request id is returned with
// `Idempotency-Replayed: true` and no new e-mail is sent.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-secret-vault/internal/capability"
	"github.com/tbourn/go-secret-vault/internal/domain"
	"github.com/tbourn/go-secret-vault/internal/http/middleware"
	"github.com/tbourn/go-secret-vault/internal/repo"
	"github.com/tbourn/go-secret-vault/internal/utils"
)

//
// DTOs
//

// CreateRequestRequest is the JSON payload for requesting a secret.
type CreateRequestRequest struct {
	// Email is the recipient who will receive the input URL.
	Email string `json:"email" binding:"required" example:"alice@example.com"`
	// Instructions are shown to the recipient; light HTML is kept.
	Instructions string `json:"instructions" example:"Please paste the staging database password."`
	// AppData is opaque and echoed back in the submission ping.
	AppData *string `json:"app_data,omitempty" example:"ticket-4711"`
}

// CreateRequestResponse identifies the created request.
type CreateRequestResponse struct {
	ReqID uint `json:"reqid" example:"42"`
}

// UnlockRequest is the JSON payload for revealing a secret.
type UnlockRequest struct {
	ReqID uint `json:"reqid" binding:"required" example:"42"`
	// Key is the unlock key from the submission ping (base64url).
	Key string `json:"key" binding:"required" example:"q83vEjRWeJq83vEjRWeJq83vEjRWeJq8"`
}

// DevelInfoResponse is the development diagnostics payload.
type DevelInfoResponse struct {
	App               *domain.App         `json:"app"`
	DeliveryPolicy    string              `json:"delivery_policy"`
	RepeatSecretInput bool                `json:"repeat_secret_input"`
	Stats             *repo.VaultStats    `json:"stats"`
	Audit             []domain.AuditEntry `json:"audit"`
}

// currentApp returns the authenticated app or aborts with 401.
func currentApp(c *gin.Context) (*domain.App, bool) {
	app, found := middleware.AppFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid app credentials")
		return nil, false
	}
	return app, true
}

//
// Handlers
//

// CreateRequest godoc
// @ID          createRequest
// @Summary     Request a secret
// @Description Creates a request and e-mails the recipient a one-time input URL.
// @Description Supports idempotency via the Idempotency-Key header (same key → same request).
// @Tags        API
// @Accept      json
// @Produce     json
// @Security    BasicAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateRequestRequest  true  "Request payload"
//
// @Success     201  {object}  handlers.CreateRequestResponse  "Created"
// @Success     200  {object}  handlers.CreateRequestResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse          "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse          "Invalid app credentials"
// @Failure     500  {object}  handlers.ErrorResponse          "Internal error"
// @Router      /api/v1/requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	app, found := currentApp(c)
	if !found {
		return
	}

	var body CreateRequestRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	rc, err := h.svc.CreateRequestIdempotent(c.Request.Context(), app, idemKey, h.opts.IdempotencyTTL,
		strings.TrimSpace(body.Email), body.Instructions, body.AppData)
	if err != nil {
		failService(c, err)
		return
	}

	if rc.Replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, CreateRequestResponse{ReqID: rc.ReqID})
		return
	}
	ok(c, http.StatusCreated, CreateRequestResponse{ReqID: rc.ReqID})
}

// UnlockSecret godoc
// @ID          apiUnlock
// @Summary     Reveal a secret
// @Description Decrypts and erases the secret of one of the app's requests.
// @Tags        API
// @Accept      json
// @Produce     json
// @Security    BasicAuth
// @Param       body  body      handlers.UnlockRequest  true  "Unlock payload"
// @Success     200   {object}  handlers.SecretResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid app credentials"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown request"
// @Router      /api/v1/unlock [post]
func (h *Handlers) UnlockSecret(c *gin.Context) {
	app, found := currentApp(c)
	if !found {
		return
	}

	var body UnlockRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reqid and key required")
		return
	}
	key, err := capability.Decode(body.Key)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgUnknownRequest)
		return
	}

	secret, err := h.svc.UnlockForApp(c.Request.Context(), app, body.ReqID, key)
	if err != nil {
		failService(c, err)
		return
	}
	okNoStore(c, http.StatusOK, SecretResponse{Secret: secret})
}

// DevelInfo godoc
// @ID          develInfo
// @Summary     Development diagnostics
// @Description Table counts and recent audit entries. Mounted only when DEBUG_API is enabled.
// @Tags        API
// @Produce     json
// @Security    BasicAuth
// @Param       limit  query  int  false  "Audit entries"  minimum(1) maximum(500) default(50)
// @Success     200  {object}  handlers.DevelInfoResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid app credentials"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/devel/info [get]
func (h *Handlers) DevelInfo(c *gin.Context) {
	app, found := currentApp(c)
	if !found {
		return
	}
	if h.devel == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found")
		return
	}
	ctx := c.Request.Context()

	st, err := h.devel.Stats(ctx)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("devel stats")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}
	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), 50), 1, 500)
	audit, err := h.devel.AuditEntries(ctx, limit)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("devel audit entries")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}

	okNoStore(c, http.StatusOK, DevelInfoResponse{
		App:               app,
		DeliveryPolicy:    h.opts.DeliveryPolicy,
		RepeatSecretInput: h.opts.RepeatSecretInput,
		Stats:             st,
		Audit:             audit,
	})
}
