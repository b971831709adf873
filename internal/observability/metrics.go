package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters shared by the bot and the dashboard. Label values are
// bounded: categories come from a fixed set, directions and results are
// enumerations.
var (
	// TicketsOpened counts tickets created, by category display name.
	TicketsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_tickets_opened_total",
			Help: "Total number of support tickets opened.",
		},
		[]string{"category"},
	)

	// MessagesAppended counts messages written to tickets, by direction.
	MessagesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_messages_appended_total",
			Help: "Total number of messages appended to tickets.",
		},
		[]string{"direction"},
	)

	// OutboundDelivery counts delivery outcomes of operator replies
	// (delivered, retry, failed).
	OutboundDelivery = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_outbound_delivery_total",
			Help: "Outcomes of outbound message delivery attempts.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(TicketsOpened, MessagesAppended, OutboundDelivery)
}
