package metrics_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ome-policy/internal/config"
	"github.com/technosupport/ome-policy/internal/metrics"
	"github.com/technosupport/ome-policy/internal/policy"
)

func TestReason(t *testing.T) {
	_, vErr := policy.Build(policy.Constraints{}, policy.Options{})
	_, eErr := policy.DecodeToken("Y")

	tests := []struct {
		err  error
		want string
	}{
		{vErr, metrics.ReasonValidation},
		{fmt.Errorf("wrapped: %w", vErr), metrics.ReasonValidation},
		{eErr, metrics.ReasonEncoding},
		{fmt.Errorf("%w: x", config.ErrProfileNotFound), metrics.ReasonConfig},
		{config.ErrProfileIncomplete, metrics.ReasonConfig},
		{errors.New("boom"), metrics.ReasonOther},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, metrics.Reason(tc.err), tc.err.Error())
	}
}

func TestRecorder_Counts(t *testing.T) {
	r := metrics.NewRecorder()

	r.ObserveSign("local", nil, time.Millisecond)
	r.ObserveSign("local", nil, time.Millisecond)
	r.ObserveSign("edge", config.ErrProfileNotFound, time.Millisecond)
	r.CacheHit()

	n, err := testutil.GatherAndCount(r.Registry(), "policygen_signed_urls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one series for profile=local")

	n, err = testutil.GatherAndCount(r.Registry(), "policygen_sign_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP policygen_cache_hits_total Signed URLs served from the result cache
# TYPE policygen_cache_hits_total counter
policygen_cache_hits_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "policygen_cache_hits_total"))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *metrics.Recorder
	assert.NotPanics(t, func() {
		r.ObserveSign("x", nil, time.Second)
		r.CacheHit()
	})
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := metrics.NewRecorder()
	r.ObserveSign("local", nil, time.Millisecond)
	r.CacheHit()

	path := filepath.Join(t.TempDir(), "policygen.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `policygen_signed_urls_total{profile="local"} 1`)
	assert.Contains(t, string(data), "policygen_cache_hits_total 1")
}
