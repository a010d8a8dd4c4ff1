package apiutil

import (
	"net/http"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the standard error response structure for all APIs
//
// Example:
//
//	{
//	  "status": "error",
//	  "error": "invalid_request",
//	  "message": "column \"revnue\" not found, did you mean \"revenue\"?",
//	  "status_code": 400
//	}
type ErrorResponse struct {
	Status     string      `json:"status"`
	Error      string      `json:"error"`
	Message    string      `json:"message"`
	StatusCode int         `json:"status_code"`
	Details    interface{} `json:"details,omitempty"`
}

// WriteErrorResponse writes a consistent error response to the client
func WriteErrorResponse(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:     "error",
		Error:      code,
		Message:    message,
		StatusCode: status,
		Details:    details,
	})
}

// WriteError maps err to a status code through its kind. Errors without a
// kind are reported as internal errors and their text is not exposed.
func WriteError(c *gin.Context, err error) {
	var typed *apperrors.Error
	if !apperrors.As(err, &typed) {
		_ = c.Error(err)
		WriteErrorResponse(c, http.StatusInternalServerError, string(apperrors.Internal),
			"An unexpected error occurred", nil)
		return
	}
	if typed.Kind == apperrors.Internal {
		_ = c.Error(err)
	}
	var details interface{}
	if len(typed.Fields) > 0 {
		details = typed.Fields
	}
	WriteErrorResponse(c, typed.Status(), string(typed.Kind), typed.Message, details)
}

// Success writes a 200 response with "status":"success" merged into body
func Success(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["status"] = "success"
	c.JSON(http.StatusOK, body)
}

// NotFoundHandler answers unmatched routes
func NotFoundHandler(c *gin.Context) {
	WriteErrorResponse(c, http.StatusNotFound, "Not found", "The requested resource was not found", nil)
}

// MethodNotAllowedHandler answers routes hit with the wrong method
func MethodNotAllowedHandler(c *gin.Context) {
	WriteErrorResponse(c, http.StatusMethodNotAllowed, "Method not allowed",
		"The method is not allowed for the requested URL", nil)
}
