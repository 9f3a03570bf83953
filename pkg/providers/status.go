// Package providers implements read-only capability adapters for the
// evidence sources: Prometheus metrics, the Kubernetes API, log stores
// (Loki/VictoriaLogs), AWS, and GitHub.
//
// Every adapter call returns (data, status) where status is ok, empty, or
// unavailable with a surface reason. Adapters never return Go errors for
// expected external failures; they classify them.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Surface reasons attached to unavailable statuses.
const (
	ReasonTimeout       = "timeout"
	ReasonForbidden     = "forbidden"
	ReasonNotFound      = "not_found"
	ReasonThrottled     = "throttled"
	ReasonNotConfigured = "not_configured"
)

// classifyHTTPStatus maps a non-2xx HTTP response code to an availability.
func classifyHTTPStatus(code int) models.Availability {
	switch {
	case code == 401 || code == 403:
		return models.AvailUnavailable(ReasonForbidden)
	case code == 404:
		return models.AvailUnavailable(ReasonNotFound)
	case code == 429:
		return models.AvailUnavailable(ReasonThrottled)
	default:
		return models.AvailUnavailable(fmt.Sprintf("http_error:%d", code))
	}
}

// classifyError maps a transport-level error to an availability.
func classifyError(err error) models.Availability {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.AvailUnavailable(ReasonTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.AvailUnavailable(ReasonTimeout)
	}
	return models.AvailUnavailable(err.Error())
}
