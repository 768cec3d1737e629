package handler

import (
	"fmt"

	rxgate_errors "rxgate/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// fail hands err to middleware.ErrorHandler, which renders the envelope.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func invalid(c *gin.Context, format string, args ...any) {
	fail(c, fmt.Errorf("%w: %s", rxgate_errors.ErrInvalidInput, fmt.Sprintf(format, args...)))
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		invalid(c, "invalid %s", name)
		return uuid.Nil, false
	}
	return id, true
}
