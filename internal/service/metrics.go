package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attune_messages_submitted_total",
		Help: "Number of user messages accepted by the submission endpoint.",
	})
	repliesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attune_replies_failed_total",
		Help: "Number of exchanges where reply generation or persistence failed.",
	})
)
