package http

import (
	"errors"
	"net/http"

	"genledger/internal/credit"
	"genledger/internal/model"
	"genledger/internal/pricing"

	"github.com/gin-gonic/gin"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is.
var errorMappings = []errorMapping{
	{model.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{pricing.ErrUnsupportedProvider, http.StatusBadRequest, "unsupported_provider"},
	{pricing.ErrUnsupportedModel, http.StatusBadRequest, "unsupported_model"},
	{pricing.ErrNoPricingConfigured, http.StatusUnprocessableEntity, "no_pricing_configured"},
	{credit.ErrInvalidPrice, http.StatusUnprocessableEntity, "invalid_price"},
	{model.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{model.ErrJobNotFound, http.StatusNotFound, "job_not_found"},
	{model.ErrAccountExists, http.StatusConflict, "account_exists"},
	{model.ErrSubmissionInFlight, http.StatusConflict, "submission_in_flight"},
}

func respondError(c *gin.Context, err error) {
	var ice *model.InsufficientCreditError
	if errors.As(err, &ice) {
		c.JSON(http.StatusPaymentRequired, errorBody{Error: apiError{
			Code:    "insufficient_credit",
			Message: err.Error(),
			Details: gin.H{
				"required":  ice.Required,
				"available": ice.Available,
				"shortfall": ice.Shortfall(),
			},
		}})
		return
	}

	var te *model.TransitionError
	if errors.As(err, &te) {
		c.JSON(http.StatusConflict, errorBody{Error: apiError{
			Code:    "invalid_transition",
			Message: err.Error(),
			Details: gin.H{"current_status": te.Current, "requested_status": te.To},
		}})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			c.JSON(m.status, errorBody{Error: apiError{Code: m.code, Message: err.Error()}})
			return
		}
	}

	if model.IsRetryable(err) {
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: apiError{
			Code:    "temporarily_unavailable",
			Message: "storage temporarily unavailable, retry the request",
		}})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, errorBody{Error: apiError{Code: "internal", Message: "internal server error"}})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: apiError{Code: "invalid_request", Message: message}})
}
