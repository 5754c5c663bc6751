// Package metrics exposes prometheus counters for auth outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plume_auth_registrations_total",
		Help: "Registration attempts by result.",
	}, []string{"result"})

	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plume_auth_logins_total",
		Help: "Password login attempts by result.",
	}, []string{"result"})

	GoogleSignins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plume_auth_google_signins_total",
		Help: "Google sign-in attempts by result.",
	}, []string{"result"})

	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plume_auth_refreshes_total",
		Help: "Refresh-token rotations by result.",
	}, []string{"result"})

	// RefreshReuse counts registry misses on refresh/logout: a well-signed
	// token that is no longer registered. Spikes here mean stolen or
	// double-redeemed tokens.
	RefreshReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plume_auth_refresh_reuse_total",
		Help: "Refresh-token reuse detections (registry cleared).",
	})

	Logouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plume_auth_logouts_total",
		Help: "Logout attempts by result.",
	}, []string{"result"})

	ProfileEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plume_auth_profile_edits_total",
		Help: "Profile edit attempts by result.",
	}, []string{"result"})
)

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
