// Package classroom manages classes and their student and staff rosters.
package classroom

import (
	"strings"
	"time"
)

// Subject is one course taught in a class, optionally assigned to a staff member.
type Subject struct {
	SubjectName string `json:"subject_name" validate:"required"`
	StaffID     string `json:"staff_id"`
}

// Class is a class record with its current rosters. Students holds
// enrollment numbers and Staff holds staff ids, both unique.
type Class struct {
	ClassID    string    `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Department string    `json:"department"`
	Semester   int       `json:"semester"`
	Capacity   int       `json:"capacity"`
	RoomNumber string    `json:"room_number"`
	Subjects   []Subject `json:"subjects"`
	Students   []string  `json:"students"`
	Staff      []string  `json:"staff"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasStudent reports whether enrollment is on the student roster.
func (c Class) HasStudent(enrollment string) bool {
	return contains(c.Students, enrollment)
}

// HasStaff reports whether staffID is on the staff roster.
func (c Class) HasStaff(staffID string) bool {
	return contains(c.Staff, staffID)
}

// ClassInput carries the editable fields of a class.
type ClassInput struct {
	ClassID    string    `json:"class_id" validate:"omitempty,max=32,excludesall=/"`
	ClassName  string    `json:"class_name" validate:"required"`
	Department string    `json:"department" validate:"required"`
	Semester   int       `json:"semester" validate:"gte=0"`
	Capacity   int       `json:"capacity" validate:"gte=1"`
	RoomNumber string    `json:"room_number"`
	Subjects   []Subject `json:"subjects" validate:"dive"`
}

// StaffFromSubjects returns the non-empty staff ids of subjects with
// duplicates removed, in first-seen order.
func StaffFromSubjects(subjects []Subject) []string {
	seen := make(map[string]struct{}, len(subjects))
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		id := strings.TrimSpace(s.StaffID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func normalizeSubjects(subjects []Subject) []Subject {
	out := make([]Subject, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, Subject{
			SubjectName: strings.TrimSpace(s.SubjectName),
			StaffID:     strings.TrimSpace(s.StaffID),
		})
	}
	return out
}
