package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest(http.MethodPost, "/v1/mint", http.StatusOK, 10*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/v1/mint", http.StatusConflict, 5*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/v1/mint", http.StatusConflict, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, "/v1/mint", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, "/v1/mint", "409")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}
