package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// StatusFor maps a fetch error code to the API response status. Failures
// of the target site are reported as gateway errors.
func StatusFor(code fetcherr.Code) int {
	switch code {
	case fetcherr.BadArgs, fetcherr.InvalidURL, fetcherr.InvalidScheme,
		fetcherr.InvalidHost, fetcherr.PortBlocked:
		return http.StatusBadRequest
	case fetcherr.SSRFBlocked, fetcherr.RobotsDisallowed:
		return http.StatusForbidden
	case fetcherr.Timeout:
		return http.StatusGatewayTimeout
	case fetcherr.BrowserUnavailable:
		return http.StatusServiceUnavailable
	case fetcherr.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// abortWithError writes err as the structured error object.
func abortWithError(c *gin.Context, err error) *fetcherr.Error {
	fe := fetcherr.From(err)
	c.AbortWithStatusJSON(StatusFor(fe.Code), fe)
	return fe
}
