package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationMetrics counts bridge deliveries.
type NotificationMetrics struct {
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewNotificationMetrics registers the notification bridge counters.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Notifications forwarded to a gateway room.",
	}, []string{"channel"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Notifications discarded before delivery.",
	}, []string{"channel", "reason"})
	reg.MustRegister(delivered, dropped)
	return &NotificationMetrics{delivered: delivered, dropped: dropped}
}

func (m *NotificationMetrics) IncDelivered(channel string) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *NotificationMetrics) IncDropped(channel, reason string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(channel), normalizeLabel(reason)).Inc()
}
