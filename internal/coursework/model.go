// Package coursework manages class assignments and student submissions.
package coursework

import (
	"io"
	"time"

	"classroom/internal/filestore"
)

// QuestionType is either a multiple-choice or a free-text question.
type QuestionType string

const (
	QuestionMCQ   QuestionType = "mcq"
	QuestionBrief QuestionType = "brief"
)

// Question is one question of an assignment. CorrectAnswer holds the text
// of the correct option for MCQ questions.
type Question struct {
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
}

// Assignment is a set of questions due on a date.
type Assignment struct {
	ID             string     `json:"id"`
	ClassID        string     `json:"class_id"`
	AssignmentName string     `json:"assignment_name"`
	DueDate        string     `json:"due_date"`
	Questions      []Question `json:"questions"`
	Archived       bool       `json:"archived"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewAssignment is the input for CreateAssignment.
type NewAssignment struct {
	AssignmentName string        `json:"assignment_name" validate:"required"`
	DueDate        string        `json:"due_date" validate:"required,datetime=2006-01-02"`
	Questions      []NewQuestion `json:"questions" validate:"required,min=1,dive"`
}

// NewQuestion is one question as entered by staff.
type NewQuestion struct {
	Text               string       `json:"text" validate:"required"`
	Type               QuestionType `json:"type" validate:"required,oneof=mcq brief"`
	Options            []string     `json:"options"`
	CorrectAnswerIndex int          `json:"correct_answer_index"`
}

// Answer is a student's answer to one question.
type Answer struct {
	QuestionText string `json:"question_text"`
	Answer       string `json:"answer"`
}

// Submission is a student's single hand-in for an assignment.
type Submission struct {
	ID           string            `json:"id"`
	AssignmentID string            `json:"assignment_id"`
	StudentID    string            `json:"student_id"`
	Answers      []Answer          `json:"answers"`
	File         *filestore.Object `json:"file,omitempty"`
	Graded       bool              `json:"graded"`
	SubmittedAt  time.Time         `json:"submitted_at"`
}

// StudentAssignment is an assignment as listed for a student.
type StudentAssignment struct {
	Assignment
	Submitted bool `json:"submitted"`
	PastDue   bool `json:"past_due"`
}

// StudentAssignments splits a student's assignments on the due date.
type StudentAssignments struct {
	Upcoming []StudentAssignment `json:"upcoming"`
	Past     []StudentAssignment `json:"past"`
}

// Upload is an optional file attached to a submission.
type Upload struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

// SubmitInput is the input for Submit. Answers are given in question order.
type SubmitInput struct {
	AssignmentID string
	StudentID    string
	Answers      []string
	File         *Upload
}
