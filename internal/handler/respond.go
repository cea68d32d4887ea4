package handler

import (
	"errors"
	"log"

	"github.com/gin-gonic/gin"

	"uniattend/internal/apperr"
	"uniattend/internal/auth"
)

// fail writes err as {"message","code"} with the matching status.
func fail(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		log.Printf("[ERROR] %s %s: %v", c.Request.Method, c.FullPath(), err)
		ae = apperr.Internal("Internal server error.")
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(ae), ae)
}

// bind decodes a JSON body, reporting malformed input as a 400.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, apperr.Invalid("Invalid request body."))
		return false
	}
	return true
}

// caller returns the principal set by auth.Protect.
func caller(c *gin.Context) auth.Principal {
	p, _ := auth.FromContext(c)
	return p
}
