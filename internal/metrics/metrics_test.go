package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStageOutcomes(t *testing.T) {
	before := testutil.ToFloat64(StageOutcomes.WithLabelValues("train", OutcomeDone))
	StageOutcomes.WithLabelValues("train", OutcomeDone).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StageOutcomes.WithLabelValues("train", OutcomeDone)))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	CreditsCharged.Add(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "kbingest_credits_charged_total"))
}
