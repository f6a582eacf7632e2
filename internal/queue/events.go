package queue

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/metrics"
)

// Event types published by the domain services.
const (
	TypeAttendanceSubmitted = "attendance.submitted"
	TypeRosterChanged       = "roster.changed"
	TypeClassDeleted        = "class.deleted"
)

// AttendanceSubmitted is emitted after a roll-call document was written.
type AttendanceSubmitted struct {
	ClassID     string          `json:"class_id"`
	Date        string          `json:"date"`
	Records     map[string]bool `json:"records"`
	SubmittedBy string          `json:"submitted_by"`
}

// RosterChanged is emitted after a student or staff member joined or left a class.
type RosterChanged struct {
	ClassID  string `json:"class_id"`
	Kind     string `json:"kind"` // student or staff
	Op       string `json:"op"`   // add or remove
	MemberID string `json:"member_id"`
}

// ClassDeleted is emitted after a class and its memberships were removed.
type ClassDeleted struct {
	ClassID string `json:"class_id"`
}

// NewMessage encodes payload as the body of a message of the given type.
func NewMessage(typ string, payload any) (Message, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrapf(err, "encode %s", typ)
	}
	return Message{Type: typ, Body: body}, nil
}

// Decode unmarshals the message body into dst.
func (m Message) Decode(dst any) error {
	return errors.Wrapf(sonic.Unmarshal(m.Body, dst), "decode %s", m.Type)
}

// Publisher is the publishing half of Queue.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Emit encodes and publishes an event. Failures are logged and counted but
// not returned: the write that produced the event has already happened.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, typ string, payload any) {
	if p == nil {
		return
	}
	msg, err := NewMessage(typ, payload)
	if err == nil {
		err = p.Publish(ctx, msg)
	}
	if err != nil {
		metrics.RemoteErrors.WithLabelValues("queue.publish").Inc()
		if log != nil {
			log.Warn("event publish failed", zap.String("type", typ), zap.Error(err))
		}
	}
}
