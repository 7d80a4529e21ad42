package dispatch

import "github.com/unclebandit/campaign-dispatch/internal/model"

// Aggregate reduces delivery results into a summary. Details keep result order.
func Aggregate(runID string, results []model.DeliveryResult) model.ResultsSummary {
	s := model.ResultsSummary{
		RunID:          runID,
		TotalProcessed: len(results),
		Details:        make([]model.DeliveryResult, len(results)),
	}
	copy(s.Details, results)
	for _, r := range results {
		if r.Outcome == model.OutcomeSent {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
	}
	return s
}
