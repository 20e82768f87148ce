package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemindersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_created_total",
			Help: "Total number of reminders accepted for delivery",
		},
		[]string{"channel", "recipient_kind"},
	)

	RemindersDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_delivered_total",
			Help: "Total number of delivery attempts by terminal status",
		},
		[]string{"channel", "status"},
	)

	RemindersCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_cancelled_total",
			Help: "Total number of reminders cancelled before delivery",
		},
	)

	// DeliveryRaceLost counts deliveries whose outcome could not be recorded
	// because another transition reached the store first.
	DeliveryRaceLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_delivery_race_lost_total",
			Help: "Deliveries whose status update was rejected by a concurrent transition",
		},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_delivery_duration_seconds",
			Help:    "Duration of channel sends in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	RecoveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_recovery_total",
			Help: "Reminders handled by startup recovery, by outcome",
		},
		[]string{"outcome"},
	)

	TimersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_timers_active",
			Help: "Number of live tasks in the timer queue",
		},
	)

	TimerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_timer_panics_total",
			Help: "Timer callbacks that panicked and were recovered",
		},
	)

	DirectoryCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_directory_cache_lookups_total",
			Help: "Customer directory lookups by cache tier and result",
		},
		[]string{"tier", "result"},
	)
)
