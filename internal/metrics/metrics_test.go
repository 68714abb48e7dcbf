package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"reward_ledger/internal/ledger"
)

func TestObserveTransaction(t *testing.T) {
	entries := ledgerEntriesTotal.WithLabelValues(string(ledger.KindWithdrawalRequest))
	amount := ledgerAmountTotal.WithLabelValues(string(ledger.KindWithdrawalRequest))
	beforeEntries := testutil.ToFloat64(entries)
	beforeAmount := testutil.ToFloat64(amount)

	ObserveTransaction(&ledger.Transaction{Kind: ledger.KindWithdrawalRequest, Amount: decimal.RequireFromString("-2.50")})

	assert.Equal(t, beforeEntries+1, testutil.ToFloat64(entries))
	assert.InDelta(t, beforeAmount+2.5, testutil.ToFloat64(amount), 1e-9)
}

func TestObserveJob(t *testing.T) {
	ok := jobRunsTotal.WithLabelValues("test_job", "ok")
	failed := jobRunsTotal.WithLabelValues("test_job", "error")

	ObserveJob("test_job", nil)
	ObserveJob("test_job", errors.New("boom"))
	ObserveJob("test_job", errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(ok))
	assert.Equal(t, float64(2), testutil.ToFloat64(failed))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	r.GET("/metrics", Handler())

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/ping", "418")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reward_ledger_http_requests_total")
}
