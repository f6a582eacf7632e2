// Package events consumes domain events from the queue and runs the
// follow-up work that does not belong in the request path.
package events

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"classroom/internal/attendance"
	"classroom/internal/metrics"
	"classroom/internal/queue"
)

// RevisionRecorder stores audited roll calls.
type RevisionRecorder interface {
	RecordRevision(ctx context.Context, rev attendance.Revision) error
	CountForClass(ctx context.Context, classID string) (int, error)
}

// Archiver hides the coursework of a deleted class.
type Archiver interface {
	ArchiveForClass(ctx context.Context, classID string) (int, error)
}

// Processor dispatches queue messages by type.
type Processor struct {
	attendance RevisionRecorder
	coursework Archiver
	log        *zap.Logger
}

// NewProcessor creates a processor.
func NewProcessor(att RevisionRecorder, cw Archiver, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{attendance: att, coursework: cw, log: log}
}

// Run handles messages until ctx is cancelled or the queue closes.
// A failed message is logged and skipped.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "queue consume init")
	}
	p.log.Info("event processor started")
	for msg := range messages {
		if err := p.Handle(ctx, msg); err != nil {
			p.log.Error("event failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
	p.log.Info("event processor stopped")
	return nil
}

// Handle processes one message. Unknown types are ignored.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	var err error
	switch msg.Type {
	case queue.TypeAttendanceSubmitted:
		err = p.attendanceSubmitted(ctx, msg)
	case queue.TypeClassDeleted:
		err = p.classDeleted(ctx, msg)
	case queue.TypeRosterChanged:
		err = p.rosterChanged(msg)
	default:
		p.log.Debug("ignoring event", zap.String("type", msg.Type))
		metrics.EventsProcessed.WithLabelValues(msg.Type, "ignored").Inc()
		return nil
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsProcessed.WithLabelValues(msg.Type, result).Inc()
	return err
}

func (p *Processor) attendanceSubmitted(ctx context.Context, msg queue.Message) error {
	var evt queue.AttendanceSubmitted
	if err := msg.Decode(&evt); err != nil {
		return err
	}
	err := p.attendance.RecordRevision(ctx, attendance.Revision{
		ClassID:     evt.ClassID,
		Date:        evt.Date,
		Records:     evt.Records,
		SubmittedBy: evt.SubmittedBy,
	})
	if err != nil {
		return errors.Wrapf(err, "record revision %s", attendance.RecordID(evt.ClassID, evt.Date))
	}
	return nil
}

func (p *Processor) classDeleted(ctx context.Context, msg queue.Message) error {
	var evt queue.ClassDeleted
	if err := msg.Decode(&evt); err != nil {
		return err
	}
	archived, err := p.coursework.ArchiveForClass(ctx, evt.ClassID)
	if err != nil {
		return errors.Wrapf(err, "archive assignments of %s", evt.ClassID)
	}
	orphaned, err := p.attendance.CountForClass(ctx, evt.ClassID)
	if err != nil {
		return errors.Wrapf(err, "count attendance of %s", evt.ClassID)
	}
	p.log.Info("class cleanup done",
		zap.String("class_id", evt.ClassID),
		zap.Int("assignments_archived", archived),
		zap.Int("attendance_orphaned", orphaned),
	)
	return nil
}

func (p *Processor) rosterChanged(msg queue.Message) error {
	var evt queue.RosterChanged
	if err := msg.Decode(&evt); err != nil {
		return err
	}
	p.log.Info("roster changed",
		zap.String("class_id", evt.ClassID),
		zap.String("kind", evt.Kind),
		zap.String("op", evt.Op),
		zap.String("member_id", evt.MemberID),
	)
	return nil
}
