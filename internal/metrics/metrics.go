package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar", Name: "document_requests_created_total", Help: "Document requests created",
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar", Name: "messages_sent_total", Help: "Conversation messages sent",
	})
	TicketsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar", Name: "tickets_created_total", Help: "Support tickets created",
	})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registrar", Name: "handler_errors_total", Help: "Handlers that returned 5xx",
	})
)

func init() {
	prometheus.MustRegister(RequestsCreated, MessagesSent, TicketsCreated, HandlerErrors)
}

func Handler() http.Handler { return promhttp.Handler() }
