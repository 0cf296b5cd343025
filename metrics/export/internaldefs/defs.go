package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/portalauth"
)

// CounterDef maps one engine counter onto an exported series.
type CounterDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// HistogramDef maps one engine histogram onto an exported series.
type HistogramDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: portalauth.MetricLoginSuccess, Name: "portalauth_login_success_total", Help: "Successful logins."},
	{ID: portalauth.MetricLoginFailure, Name: "portalauth_login_failure_total", Help: "Failed logins."},
	{ID: portalauth.MetricLoginRateLimited, Name: "portalauth_login_rate_limited_total", Help: "Logins and code sends refused by the rate limiter."},
	{ID: portalauth.MetricCodeSent, Name: "portalauth_login_code_sent_total", Help: "One-time login codes handed to the sender."},
	{ID: portalauth.MetricCodeRejected, Name: "portalauth_login_code_rejected_total", Help: "Wrong or expired one-time codes."},
	{ID: portalauth.MetricCodeExhausted, Name: "portalauth_login_code_exhausted_total", Help: "One-time codes burned by too many attempts."},
	{ID: portalauth.MetricRefreshSuccess, Name: "portalauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: portalauth.MetricRefreshFailure, Name: "portalauth_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: portalauth.MetricReplayDetected, Name: "portalauth_refresh_replay_detected_total", Help: "Replayed or mismatched refresh secrets."},
	{ID: portalauth.MetricSessionCreated, Name: "portalauth_session_created_total", Help: "Sessions opened by login."},
	{ID: portalauth.MetricSessionRevoked, Name: "portalauth_session_revoked_total", Help: "Sessions revoked outside rotation."},
	{ID: portalauth.MetricLogout, Name: "portalauth_logout_total", Help: "Single-session logout calls."},
	{ID: portalauth.MetricLogoutAll, Name: "portalauth_logout_all_total", Help: "Logout-all calls."},
	{ID: portalauth.MetricGateAllowed, Name: "portalauth_gate_allowed_total", Help: "Requests allowed by the gate."},
	{ID: portalauth.MetricGateForbidden, Name: "portalauth_gate_forbidden_total", Help: "Requests refused for missing capability or inactive status."},
	{ID: portalauth.MetricGateSessionMissing, Name: "portalauth_gate_session_missing_total", Help: "Requests refused because no permission entry was found."},
	{ID: portalauth.MetricCacheUnavailable, Name: "portalauth_permission_cache_unavailable_total", Help: "Permission cache failures."},
	{ID: portalauth.MetricAccountStatusChanged, Name: "portalauth_account_status_changed_total", Help: "Principal status changes."},
}

var HistogramDefs = []HistogramDef{
	{ID: portalauth.MetricGateLatency, Name: "portalauth_gate_latency_seconds", Help: "Authorization gate latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for everything above the last bound.
var HistogramUpperBounds = upperBounds()

// HistogramBoundSuffix names each bucket in instrument names, e.g.
// "0_00025" for 250µs and "inf" for the overflow bucket.
var HistogramBoundSuffix = boundSuffixes(HistogramUpperBounds)

func upperBounds() []float64 {
	bounds := portalauth.GateLatencyBounds()
	out := make([]float64, len(bounds))
	for i, b := range bounds {
		out[i] = b.Seconds()
	}
	return out
}

func boundSuffixes(bounds []float64) []string {
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

const (
	AuditDroppedName = "portalauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// NormalizeBuckets copies a snapshot histogram into a slice of exactly
// portalauth.HistogramBuckets entries, tolerating a missing or short input.
func NormalizeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, portalauth.HistogramBuckets)
	copy(out, raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(raw))
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
