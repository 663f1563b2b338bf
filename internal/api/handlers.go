package api

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/alerting"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var errInvalidLimit = errors.New("limit must be a positive integer")

// AdminHandler serves the read and control endpoints of an ErrorHandler
type AdminHandler struct {
	errors  *resilience.ErrorHandler
	history alerting.History
	logger  *logging.Logger
}

// NewAdminHandler creates a new admin handler. history may be nil.
func NewAdminHandler(errorHandler *resilience.ErrorHandler, history alerting.History, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &AdminHandler{
		errors:  errorHandler,
		history: history,
		logger:  logger,
	}
}

// GetStats handles GET /api/v1/stats
func (h *AdminHandler) GetStats(c *gin.Context) {
	SuccessResponse(c, h.errors.Stats())
}

// ListBreakers handles GET /api/v1/breakers
func (h *AdminHandler) ListBreakers(c *gin.Context) {
	breakers := h.errors.Stats().CircuitBreakers
	SuccessResponseWithMeta(c, breakers, &Meta{Total: len(breakers), Returned: len(breakers)})
}

// GetBreaker handles GET /api/v1/breakers/:name
func (h *AdminHandler) GetBreaker(c *gin.Context) {
	state, ok := h.errors.CircuitBreaker(c.Param("name"))
	if !ok {
		NotFoundResponse(c, "Circuit breaker")
		return
	}
	SuccessResponse(c, state)
}

// ResetBreaker handles POST /api/v1/breakers/:name/reset
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if !h.errors.ResetCircuitBreaker(c.Request.Context(), name) {
		NotFoundResponse(c, "Circuit breaker")
		return
	}

	h.logger.Log(c.Request.Context(), logging.LevelInfo, "Circuit breaker reset by admin", logging.Fields{
		"breaker": name,
		"admin":   c.GetString(adminSubjectKey),
	})

	state, _ := h.errors.CircuitBreaker(name)
	SuccessResponse(c, state)
}

// ListReports handles GET /api/v1/reports. Supports name, unresolved and limit.
func (h *AdminHandler) ListReports(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		BadRequestResponse(c, err.Error())
		return
	}

	name := c.Query("name")
	unresolvedOnly := c.Query("unresolved") == "true"

	all := h.errors.Reports()
	matched := make([]resilience.ErrorReport, 0, len(all))
	for _, report := range all {
		if name != "" && report.Error.Name != name {
			continue
		}
		if unresolvedOnly && report.Resolved {
			continue
		}
		matched = append(matched, report)
	}

	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	SuccessResponseWithMeta(c, matched, &Meta{Total: total, Returned: len(matched)})
}

// GetReport handles GET /api/v1/reports/:id
func (h *AdminHandler) GetReport(c *gin.Context) {
	report, ok := h.errors.Report(c.Param("id"))
	if !ok {
		NotFoundResponse(c, "Error report")
		return
	}
	SuccessResponse(c, report)
}

// GetUserError handles GET /api/v1/reports/:id/user-error
func (h *AdminHandler) GetUserError(c *gin.Context) {
	report, ok := h.errors.Report(c.Param("id"))
	if !ok {
		NotFoundResponse(c, "Error report")
		return
	}
	SuccessResponse(c, h.errors.CreateUserError(report.Error, report.Context))
}

// ResolveReport handles POST /api/v1/reports/:id/resolve
func (h *AdminHandler) ResolveReport(c *gin.Context) {
	report, ok := h.errors.ResolveReport(c.Request.Context(), c.Param("id"))
	if !ok {
		NotFoundResponse(c, "Error report")
		return
	}
	SuccessResponse(c, report)
}

// CleanupReports handles POST /api/v1/reports/cleanup
func (h *AdminHandler) CleanupReports(c *gin.Context) {
	removed := h.errors.CleanupReports(c.Request.Context())
	SuccessResponse(c, gin.H{"removed": removed})
}

// FlushAlerts handles POST /api/v1/alerts/flush
func (h *AdminHandler) FlushAlerts(c *gin.Context) {
	delivered := h.errors.FlushAlerts(c.Request.Context())
	SuccessResponse(c, gin.H{"delivered": delivered})
}

// ListAlerts handles GET /api/v1/alerts
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	if h.history == nil {
		ServiceUnavailableResponse(c, "No alert history sink is configured")
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		BadRequestResponse(c, err.Error())
		return
	}

	alerts, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "Failed to read alert history", nil)
		ServiceUnavailableResponse(c, "Alert history is unavailable")
		return
	}

	SuccessResponseWithMeta(c, alerts, &Meta{Total: len(alerts), Returned: len(alerts)})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errInvalidLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
