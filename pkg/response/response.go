package response

import (
	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// OK writes data as a 200 response.
func OK(c *gin.Context, data any) {
	c.JSON(200, data)
}

// Fail writes an error envelope and aborts the handler chain.
func Fail(c *gin.Context, status, code int, details string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Code:    code,
		Error:   Message(code),
		Details: details,
	})
}
