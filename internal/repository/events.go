package repository

import "genledger/internal/model"

const (
	TopicJobSubmitted = "generation.submitted"
	TopicJobCompleted = "generation.completed"
	TopicJobRefunded  = "generation.refunded"

	// ReportTopicPrefix prefixes executor outcome reports: generation.reports.<outcome>.
	ReportTopicPrefix = "generation.reports"
	ReportSubjects    = ReportTopicPrefix + ".*"
)

func ReportTopic(outcome model.ReportOutcome) string {
	return ReportTopicPrefix + "." + string(outcome)
}
