package attendance

import (
	"context"
	"sort"
)

// ComputeForStudent aggregates a student's marks over every class whose roster
// currently contains them. Roll calls without an entry for the student do
// not count.
func (s *Service) ComputeForStudent(ctx context.Context, enrollment string) (StudentReport, error) {
	classes, err := s.classes.ListClassesForStudent(ctx, enrollment)
	if err != nil {
		return StudentReport{}, err
	}
	ids := make([]string, len(classes))
	for i, c := range classes {
		ids[i] = c.ClassID
	}
	records, err := s.repo.ListForClasses(ctx, ids)
	if err != nil {
		return StudentReport{}, err
	}

	byClass := make(map[string][]Record, len(classes))
	for _, rec := range records {
		byClass[rec.ClassID] = append(byClass[rec.ClassID], rec)
	}

	report := StudentReport{
		StudentID:   enrollment,
		PresentDays: []string{},
		AbsentDays:  []string{},
		Classes:     make([]ClassStats, 0, len(classes)),
	}
	for _, c := range classes {
		cs := ClassStats{ClassID: c.ClassID, ClassName: c.ClassName, PresentDays: []string{}, AbsentDays: []string{}}
		for _, rec := range byClass[c.ClassID] {
			m := rec.Mark(enrollment)
			cs.count(m)
			report.count(m)
			switch m {
			case Present:
				cs.PresentDays = append(cs.PresentDays, rec.Date)
			case Absent:
				cs.AbsentDays = append(cs.AbsentDays, rec.Date)
			}
		}
		sort.Strings(cs.PresentDays)
		sort.Strings(cs.AbsentDays)
		cs.Stats = cs.finish()
		report.PresentDays = append(report.PresentDays, cs.PresentDays...)
		report.AbsentDays = append(report.AbsentDays, cs.AbsentDays...)
		report.Classes = append(report.Classes, cs)
	}
	sort.Strings(report.PresentDays)
	sort.Strings(report.AbsentDays)
	report.Stats = report.finish()
	return report, nil
}

// ComputeForClass aggregates each student currently on the roster over the
// class's roll calls, sorted by student id.
func (s *Service) ComputeForClass(ctx context.Context, classID string) ([]StudentStats, error) {
	class, err := s.classes.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListForClasses(ctx, []string{classID})
	if err != nil {
		return nil, err
	}
	return tally(class.Students, records), nil
}

// ClassReport is the class aggregation joined with student names. A student
// without a known name is shown by enrollment number.
func (s *Service) ClassReport(ctx context.Context, classID string) (ClassReport, error) {
	class, err := s.classes.GetClass(ctx, classID)
	if err != nil {
		return ClassReport{}, err
	}
	records, err := s.repo.ListForClasses(ctx, []string{classID})
	if err != nil {
		return ClassReport{}, err
	}
	names, err := s.names.StudentNames(ctx, class.Students)
	if err != nil {
		return ClassReport{}, err
	}

	report := ClassReport{
		ClassID:   class.ClassID,
		ClassName: class.ClassName,
		Days:      len(records),
		Students:  []ReportRow{},
	}
	var overall Stats
	for _, row := range tally(class.Students, records) {
		name, ok := names[row.StudentID]
		if !ok || name == "" {
			name = row.StudentID
		}
		overall.Present += row.Present
		overall.Total += row.Total
		report.Students = append(report.Students, ReportRow{StudentID: row.StudentID, Name: name, Stats: row.Stats})
	}
	report.Overall = overall.finish()
	return report, nil
}

func tally(students []string, records []Record) []StudentStats {
	out := make([]StudentStats, 0, len(students))
	for _, student := range students {
		var st Stats
		for _, rec := range records {
			st.count(rec.Mark(student))
		}
		out = append(out, StudentStats{StudentID: student, Stats: st.finish()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}
