package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Verification("access", "ok")
	m.Issued("access")
	m.Revocation("session")
	m.ServiceAuth("ok")
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.Verification("access", "ok")
	m.Verification("access", "expired")
	m.Verification("access", "expired")
	m.Issued("refresh")

	require.Equal(t, 2.0, testutil.ToFloat64(m.verifications.WithLabelValues("access", "expired")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.issued.WithLabelValues("refresh")))
}

func TestMetrics_InstrumentAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	r := gin.New()
	r.Use(m.Instrument())
	r.GET("/api/things/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/things/42", nil))
	require.Equal(t, http.StatusTeapot, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.True(t, strings.Contains(body, `route="/api/things/:id"`), body)
	require.True(t, strings.Contains(body, `status="418"`))
}
