package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Socket metrics
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillhub_ws_connections_active",
			Help: "Currently open websocket connections, authenticated or pending",
		},
	)

	usersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillhub_presence_users_online",
			Help: "Distinct users with at least one authenticated connection",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillhub_ws_auth_attempts_total",
			Help: "Socket authentication attempts by outcome",
		},
		[]string{"outcome"}, // "success" or "failure"
	)

	presenceBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillhub_presence_broadcasts_total",
			Help: "Presence transition broadcasts by direction",
		},
		[]string{"transition"}, // "online" or "offline"
	)

	// Account metrics
	signupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillhub_signups_total",
			Help: "Total accounts created",
		},
	)

	loginsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillhub_logins_total",
			Help: "Total successful logins",
		},
	)
)
