// Front-end HTTP handlers.
//
// These endpoints are reached through capability URLs:
//   - GET  /request/{id}/input?m=       (check the input link)
//   - POST /request/{id}/input          (submit the secret; form m, secret)
//   - GET  /unlock/{id}/unlock?k=&m=    (reveal and erase the secret)
//
// The token in m is the only authorization. Every failure to authorize,
// and every request that is no longer actionable, answers the same
// 404 "unknown request".
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-secret-vault/internal/capability"
	"github.com/tbourn/go-secret-vault/internal/http/middleware"
	"github.com/tbourn/go-secret-vault/internal/services"
	"github.com/tbourn/go-secret-vault/internal/utils"
)

// InputFormResponse describes a request awaiting the recipient's secret.
type InputFormResponse struct {
	ReqID        uint    `json:"reqid" example:"42"`
	Instructions *string `json:"instructions,omitempty" example:"Please paste the staging database password."`
}

// SubmitInputRequest is the form posted by the recipient.
type SubmitInputRequest struct {
	// M is the input capability token from the e-mailed URL.
	M string `form:"m" binding:"required"`
	// Secret is the plaintext to seal.
	Secret string `form:"secret" binding:"required"`
}

// SubmitInputResponse acknowledges a stored secret.
type SubmitInputResponse struct {
	Status string `json:"status" example:"received"`
}

// SecretResponse carries a decrypted secret.
type SecretResponse struct {
	Secret string `json:"secret" example:"hunter2"`
}

// capabilityArgs parses the request id and a base64 query token. valid is false
// when either is malformed; the caller answers the generic 404.
func capabilityArgs(c *gin.Context, token string) (id uint, raw []byte, valid bool) {
	id, valid = utils.ParseID(c.Param("id"))
	if !valid {
		return 0, nil, false
	}
	raw, err := capability.Decode(token)
	if err != nil {
		return 0, nil, false
	}
	return id, raw, true
}

// InputForm godoc
// @ID          inputForm
// @Summary     Check an input link
// @Description Verifies the capability token of an e-mailed input URL and returns the request's instructions.
// @Tags        Frontend
// @Produce     json
// @Param       id  path   int     true  "Request ID"
// @Param       m   query  string  true  "Input capability token"
// @Success     200 {object} handlers.InputFormResponse
// @Failure     404 {object} handlers.ErrorResponse "Unknown request"
// @Router      /request/{id}/input [get]
func (h *Handlers) InputForm(c *gin.Context) {
	id, token, valid := capabilityArgs(c, c.Query("m"))
	if !valid {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgUnknownRequest)
		return
	}
	req, err := h.svc.CheckInput(c.Request.Context(), id, token)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, InputFormResponse{ReqID: req.ID, Instructions: req.Instructions})
}

// SubmitInput godoc
// @ID          submitInput
// @Summary     Submit a secret
// @Description Seals the secret under a fresh unlock key and notifies the requesting application.
// @Description Under the strict delivery policy a failed notification discards the secret and answers 502.
// @Tags        Frontend
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Param       id      path      int     true  "Request ID"
// @Param       m       formData  string  true  "Input capability token"
// @Param       secret  formData  string  true  "Secret to deliver"
// @Success     200 {object} handlers.SubmitInputResponse
// @Failure     400 {object} handlers.ErrorResponse "Missing or oversized secret"
// @Failure     404 {object} handlers.ErrorResponse "Unknown request"
// @Failure     502 {object} handlers.ErrorResponse "Application not notified"
// @Router      /request/{id}/input [post]
func (h *Handlers) SubmitInput(c *gin.Context) {
	var form SubmitInputRequest
	if err := c.ShouldBind(&form); err != nil {
		if c.PostForm("m") == "" {
			fail(c, http.StatusNotFound, ErrCodeNotFound, msgUnknownRequest)
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "secret required")
		return
	}
	id, token, valid := capabilityArgs(c, form.M)
	if !valid {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgUnknownRequest)
		return
	}

	receipt, err := h.svc.SubmitSecret(c.Request.Context(), id, token, form.Secret)
	if err != nil {
		// After-commit delivery: the secret is stored even though the ping failed.
		if receipt != nil && services.KindOf(err) == services.KindDeliveryFailure {
			middleware.LoggerFrom(c).Warn().Uint("reqid", id).Msg("secret stored but app not notified")
			ok(c, http.StatusOK, SubmitInputResponse{Status: "received"})
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, SubmitInputResponse{Status: "received"})
}

// Unlock godoc
// @ID          unlockSecret
// @Summary     Reveal a secret
// @Description Decrypts the secret with the unlock key from the URL and erases it. A secret can be revealed once.
// @Tags        Frontend
// @Produce     json
// @Param       id  path   int     true  "Request ID"
// @Param       k   query  string  true  "Unlock key"
// @Param       m   query  string  true  "Unlock capability token"
// @Success     200 {object} handlers.SecretResponse
// @Failure     404 {object} handlers.ErrorResponse "Unknown request"
// @Router      /unlock/{id}/unlock [get]
func (h *Handlers) Unlock(c *gin.Context) {
	id, key, valid := capabilityArgs(c, c.Query("k"))
	if !valid {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgUnknownRequest)
		return
	}
	token, err := capability.Decode(c.Query("m"))
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgUnknownRequest)
		return
	}

	secret, err := h.svc.UnlockSecret(c.Request.Context(), id, token, key)
	if err != nil {
		failService(c, err)
		return
	}
	okNoStore(c, http.StatusOK, SecretResponse{Secret: secret})
}
