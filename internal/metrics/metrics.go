package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SensorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_sensor_events_total",
		Help: "Sensor webhook events by kind and outcome.",
	}, []string{"kind", "outcome"})

	Responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_responses_total",
		Help: "Responder replies by channel and outcome.",
	}, []string{"channel", "outcome"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_messages_sent_total",
		Help: "Outbound messages by channel and delivery result.",
	}, []string{"channel", "result"})

	ScheduledTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_scheduled_tasks_total",
		Help: "Fired delayed tasks by kind and outcome.",
	}, []string{"kind", "outcome"})

	VitalsNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_notifications_total",
		Help: "Vitals notifications by type and whether they were dispatched.",
	}, []string{"type", "dispatched"})

	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_transaction_retries_total",
		Help: "Transactions retried after a serialization failure.",
	})
)
