package router

import (
	"errors"
	"net/http"
	"strconv"

	"food_rescue/internal/ledger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

// respondErr maps ledger error kinds onto HTTP statuses. Anything else is an
// internal error and its details stay in the log.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrForbidden):
		fail(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		fail(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

// paramID parses a positive numeric path parameter.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}
