// Package reminders flattens the per-case reminder lists of a live
// case snapshot into the globally ordered agenda views the dashboard
// renders. Aggregation is a pure function of its snapshot inputs; the
// upcoming/past partition additionally depends on the caller's clock
// and is never cached across evaluation cycles, because a reminder can
// move into the past with no data change at all.
package reminders

import (
	"time"

	"github.com/andinalegal/lexcase/backend/internal/cases"
	"github.com/andinalegal/lexcase/backend/internal/livequery"
	"github.com/andinalegal/lexcase/backend/internal/timeval"
	"github.com/andinalegal/lexcase/backend/internal/view"
)

// Extended is a reminder joined with its owning case's identifying
// fields. Instances are built fresh on every recomputation.
type Extended struct {
	CaseID     string
	ClientName string
	Nurej      string
	LawyerName string
	Date       timeval.Instant
	Message    string
}

// Aggregate flattens the reminders embedded in caseRecords into one
// time-ascending sequence. When includeLawyerNames is set (callers
// gate it on the view-assignee-names capability), each reminder also
// carries the assigned lawyer's display name resolved from the users
// snapshot; an unresolved lookup leaves the name absent, it is not an
// error.
func Aggregate(caseRecords []cases.CaseRecord, users []cases.UserRecord, includeLawyerNames bool) []Extended {
	flattened := make([]Extended, 0, len(caseRecords))
	for _, caseRecord := range caseRecords {
		lawyerName := ""
		if includeLawyerNames {
			lawyerName = lawyerDisplayName(caseRecord.AssignedLawyerID, users)
		}
		for _, reminder := range caseRecord.Reminders {
			flattened = append(flattened, Extended{
				CaseID:     caseRecord.ID,
				ClientName: caseRecord.ClientName,
				Nurej:      caseRecord.Nurej,
				LawyerName: lawyerName,
				Date:       reminder.Date,
				Message:    reminder.Message,
			})
		}
	}

	return view.SortStable(flattened, func(a, b Extended) int {
		return timeval.Compare(a.Date, b.Date)
	}, livequery.Ascending)
}

// Partition splits a time-ascending sequence into upcoming-or-today
// and strictly-past views of the given moment. Day granularity: a
// reminder stays "upcoming-or-today" until the calendar day it is
// dated has fully passed, so one dated exactly now is never past. The
// past view is reversed to show the most recent first.
func Partition(items []Extended, now time.Time) (upcoming, past []Extended) {
	startOfToday := now.UTC().Truncate(24 * time.Hour)

	upcoming = make([]Extended, 0, len(items))
	past = make([]Extended, 0)
	for _, item := range items {
		if item.Date.Known() && item.Date.Time().Before(startOfToday) {
			past = append(past, item)
			continue
		}
		upcoming = append(upcoming, item)
	}

	for left, right := 0, len(past)-1; left < right; left, right = left+1, right-1 {
		past[left], past[right] = past[right], past[left]
	}
	return upcoming, past
}

func lawyerDisplayName(lawyerID string, users []cases.UserRecord) string {
	if lawyerID == "" {
		return ""
	}
	for _, user := range users {
		if user.ID == lawyerID {
			return user.DisplayName
		}
	}
	return ""
}
