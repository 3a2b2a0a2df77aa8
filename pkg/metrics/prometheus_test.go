package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordOrder("paper", "buy")
	r.RecordOrder("paper", "buy")
	r.RecordSleeveGross("C_xsec_qv", 1.7)
	r.RecordRegime("risk_on", 0.8)
	r.RecordRegime("volatile", 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.orders.WithLabelValues("paper", "buy")))
	assert.Equal(t, 1.7, testutil.ToFloat64(r.sleeveGross.WithLabelValues("C_xsec_qv")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.regimeScore))
}
