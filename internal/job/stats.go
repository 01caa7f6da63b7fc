package job

import "time"

// Aggregate builds Statistics from per-status counts, the summed record
// count, and the completed jobs whose duration is known. Jobs in completed
// lacking either timestamp are skipped; with none left the average is 0.
func Aggregate(counts map[Status]int64, totalRecords int64, completed []Job, now time.Time) Statistics {
	stats := Statistics{
		CompletedJobs:         counts[StatusCompleted],
		FailedJobs:            counts[StatusFailed],
		PendingJobs:           counts[StatusPending],
		InProgressJobs:        counts[StatusInProgress],
		CancelledJobs:         counts[StatusCancelled],
		TotalRecordsExtracted: totalRecords,
	}
	for _, st := range Statuses {
		stats.TotalJobs += counts[st]
	}

	var sum float64
	var n int
	for i := range completed {
		j := &completed[i]
		if j.Status != StatusCompleted || j.StartTime == nil || j.EndTime == nil {
			continue
		}
		sum += j.DurationSeconds(now)
		n++
	}
	if n > 0 {
		stats.AverageDurationSeconds = sum / float64(n)
	}
	return stats
}
