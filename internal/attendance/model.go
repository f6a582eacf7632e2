// Package attendance records daily roll calls and aggregates them into
// per-student and per-class attendance figures.
package attendance

import (
	"math"
	"time"
)

// DateLayout is the format of roll-call dates.
const DateLayout = "2006-01-02"

// Mark is a student's state in one roll call.
type Mark int

const (
	// NoRecord means the roll call has no entry for the student; it is
	// never counted as an absence.
	NoRecord Mark = iota
	Absent
	Present
)

func (m Mark) String() string {
	switch m {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "no_record"
	}
}

// Record is the roll call of one class on one day, keyed by enrollment number.
type Record struct {
	ClassID   string          `json:"class_id"`
	Date      string          `json:"date"`
	Records   map[string]bool `json:"records"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecordID is the document key of a roll call.
func RecordID(classID, date string) string {
	return classID + "_" + date
}

// ID returns the document key of r.
func (r Record) ID() string {
	return RecordID(r.ClassID, r.Date)
}

// Mark returns the state of student in r.
func (r Record) Mark(student string) Mark {
	present, ok := r.Records[student]
	switch {
	case !ok:
		return NoRecord
	case present:
		return Present
	default:
		return Absent
	}
}

// Revision is one submitted roll call kept for auditing.
type Revision struct {
	ID          string          `json:"id"`
	ClassID     string          `json:"class_id"`
	Date        string          `json:"date"`
	Records     map[string]bool `json:"records"`
	SubmittedBy string          `json:"submitted_by"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Stats are attendance counts over a set of roll calls.
type Stats struct {
	Present    int  `json:"present"`
	Total      int  `json:"total"`
	Percentage int  `json:"percentage"`
	HasData    bool `json:"has_data"`
}

func (s *Stats) count(m Mark) {
	switch m {
	case Present:
		s.Present++
		s.Total++
	case Absent:
		s.Total++
	}
}

func (s Stats) finish() Stats {
	s.HasData = s.Total > 0
	s.Percentage = percentage(s.Present, s.Total)
	return s
}

func percentage(present, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(present) / float64(total) * 100))
}

// StudentStats is one roster row of a class aggregation.
type StudentStats struct {
	StudentID string `json:"student_id"`
	Stats
}

// ClassStats is a student's attendance within one class.
type ClassStats struct {
	ClassID     string   `json:"class_id"`
	ClassName   string   `json:"class_name"`
	PresentDays []string `json:"present_days"`
	AbsentDays  []string `json:"absent_days"`
	Stats
}

// StudentReport is a student's attendance over every class they are on.
type StudentReport struct {
	StudentID   string       `json:"student_id"`
	PresentDays []string     `json:"present_days"`
	AbsentDays  []string     `json:"absent_days"`
	Classes     []ClassStats `json:"classes"`
	Stats
}

// ReportRow is a named roster row of the class report.
type ReportRow struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Stats
}

// ClassReport is the admin view of a class's attendance.
type ClassReport struct {
	ClassID   string      `json:"class_id"`
	ClassName string      `json:"class_name"`
	Days      int         `json:"days"`
	Students  []ReportRow `json:"students"`
	Overall   Stats       `json:"overall"`
}
