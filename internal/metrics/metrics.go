package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studylib"

// Metrics holds the account flow counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	registrations *prometheus.CounterVec
	verifications *prometheus.CounterVec
	resends       *prometheus.CounterVec
	logins        *prometheus.CounterVec
	emailSends    *prometheus.CounterVec
	chatMessages  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification code submissions by result.",
		}, []string{"result"}),
		resends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_resends_total",
			Help:      "Verification code rotations by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		emailSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_sends_total",
			Help:      "Verification emails by delivery result.",
		}, []string{"result"}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages accepted by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.registrations, m.verifications, m.resends, m.logins, m.emailSends, m.chatMessages)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registration(outcome string) {
	if m != nil {
		m.registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Verification(result string) {
	if m != nil {
		m.verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Resend(result string) {
	if m != nil {
		m.resends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) EmailSend(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.emailSends.WithLabelValues(result).Inc()
}

func (m *Metrics) ChatMessage(kind string) {
	if m != nil {
		m.chatMessages.WithLabelValues(kind).Inc()
	}
}
