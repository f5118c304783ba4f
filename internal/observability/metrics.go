package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	adminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqllink_admin_requests_total",
			Help: "Total number of admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	replLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqllink_repl_lines_total",
			Help: "Total number of request lines read by decode status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(adminRequestsTotal, replLinesTotal)
}

func ObserveLine(decoded bool) {
	status := "ok"
	if !decoded {
		status = "invalid"
	}
	replLinesTotal.WithLabelValues(status).Inc()
}
