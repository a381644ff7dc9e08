package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/technosupport/ome-policy/internal/config"
	"github.com/technosupport/ome-policy/internal/policy"
)

// Failure reasons used as the "reason" label.
const (
	ReasonValidation = "validation"
	ReasonEncoding   = "encoding"
	ReasonConfig     = "config"
	ReasonOther      = "other"
)

// Recorder counts signing outcomes on a private registry. There is no
// listener; results are flushed with WriteTextfile for the node exporter
// textfile collector.
type Recorder struct {
	registry *prometheus.Registry

	signed    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	cacheHits prometheus.Counter
	duration  prometheus.Histogram
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{registry: reg}

	r.signed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policygen_signed_urls_total",
		Help: "Signed policy URLs produced, by profile",
	}, []string{"profile"})
	reg.MustRegister(r.signed)

	r.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policygen_sign_failures_total",
		Help: "Signing attempts that produced no URL, by profile and reason",
	}, []string{"profile", "reason"})
	reg.MustRegister(r.failures)

	r.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "policygen_cache_hits_total",
		Help: "Signed URLs served from the result cache",
	})
	reg.MustRegister(r.cacheHits)

	r.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "policygen_sign_duration_seconds",
		Help:    "Time spent producing one signed URL",
		Buckets: prometheus.ExponentialBuckets(0.000005, 4, 8),
	})
	reg.MustRegister(r.duration)

	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveSign records one signing attempt. A nil Recorder is a no-op.
func (r *Recorder) ObserveSign(profile string, err error, took time.Duration) {
	if r == nil {
		return
	}
	r.duration.Observe(took.Seconds())
	if err != nil {
		r.failures.WithLabelValues(profile, Reason(err)).Inc()
		return
	}
	r.signed.WithLabelValues(profile).Inc()
}

func (r *Recorder) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

// WriteTextfile writes the current values in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Reason maps an error to its failure label.
func Reason(err error) string {
	var vErr *policy.ValidationError
	var eErr *policy.EncodingError
	switch {
	case errors.As(err, &vErr):
		return ReasonValidation
	case errors.As(err, &eErr):
		return ReasonEncoding
	case errors.Is(err, config.ErrProfileNotFound), errors.Is(err, config.ErrProfileIncomplete):
		return ReasonConfig
	default:
		return ReasonOther
	}
}
