package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorHandler renders every error as {"message": ...}. Errors that are not
// *echo.HTTPError become a generic 500 so internal details never reach the
// client; the underlying error is logged.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := interface{}(http.StatusText(code))

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = he.Message
			if he.Internal != nil {
				logger.Debug().Err(he.Internal).Int("status", code).Msg("http error internal")
			}
		} else {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		if s, ok := message.(string); ok {
			message = map[string]string{"message": s}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, message)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}
