package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AuthRegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of registration attempts.",
		},
		[]string{"result"},
	)

	AuthLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts.",
		},
		[]string{"result"},
	)

	TokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of credentials issued.",
		},
		[]string{"flow", "result"},
	)

	CredentialsRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_credentials_revoked_total",
			Help: "Total number of credentials flipped to non-live.",
		},
		[]string{"flow"},
	)

	CredentialAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_credential_admissions_total",
			Help: "Credential gate decisions by channel and result.",
		},
		[]string{"channel", "result"},
	)

	CredentialSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_credential_sweep_rows_total",
			Help: "Rows expired or purged by the credential sweep.",
		},
		[]string{"action"},
	)

	SessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_session_transitions_total",
			Help: "Reconciler outcomes for connect and disconnect events.",
		},
		[]string{"event", "outcome"},
	)

	ChatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages persisted and broadcast, by kind.",
		},
		[]string{"kind"},
	)

	WSConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Open WebSocket connections by authentication state.",
		},
		[]string{"auth"},
	)
)

// MustRegister exports every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		AuthRegistrationsTotal,
		AuthLoginsTotal,
		TokensIssuedTotal,
		CredentialsRevokedTotal,
		CredentialAdmissionsTotal,
		CredentialSweepsTotal,
		SessionTransitionsTotal,
		ChatMessagesTotal,
		WSConnectionsActive,
	)
}
