package httpapi

import (
	"net/http"
	"time"

	"callwallet/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 30 * 24 * time.Hour

// reportRange parses from/to as RFC3339. Missing bounds default to the last 30 days.
func (h Handlers) reportRange(c *gin.Context) (reporting.TimeRange, bool) {
	r := reporting.TimeRange{To: h.clock().UTC()}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		r.To = t.UTC()
	}
	r.From = r.To.Add(-defaultReportWindow)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		r.From = t.UTC()
	}
	return r, true
}

func (h Handlers) UsageReport(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	r, ok := h.reportRange(c)
	if !ok {
		return
	}
	out, err := h.Reporting.UsageSummary(c.Request.Context(), uid, r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SpendReport(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	r, ok := h.reportRange(c)
	if !ok {
		return
	}
	out, err := h.Reporting.SpendSummary(c.Request.Context(), uid, r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
