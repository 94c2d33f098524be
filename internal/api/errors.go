package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/edgard/intake/internal/errors"
)

// respondError maps application error codes onto HTTP statuses. fallback is
// the body message used for unexpected failures.
func respondError(c *gin.Context, err error, fallback string) {
	switch apperrors.Code(err) {
	case apperrors.CodeDuplicateKey, apperrors.CodeConstraint:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Database error: " + err.Error()})
	case apperrors.CodeValidation, apperrors.CodeInvalidTransition:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "detail": err.Error()})
}
