package attendance

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"
)

// Directory: 生徒・時間割・休日のマスタ参照（CRUDはこのパッケージの外）
type Directory interface {
	GetStudent(ctx context.Context, id string) (*Student, error)
	FindStudentByNISN(ctx context.Context, nisn string) (*Student, error)
	GetSchedule(ctx context.Context, id string) (*ScheduleSlot, error)
	ListSchedulesByClass(ctx context.Context, classID string) ([]ScheduleSlot, error)
	// Holidays: [from, to] に含まれる休日（YYYY-MM-DD の集合）
	Holidays(ctx context.Context, from, to time.Time) (map[string]bool, error)
}

// ===== MySQL =====

type MySQLDirectory struct{ db *sql.DB }

func NewMySQLDirectory(db *sql.DB) *MySQLDirectory { return &MySQLDirectory{db: db} }

func (d *MySQLDirectory) GetStudent(ctx context.Context, id string) (*Student, error) {
	return d.findStudent(ctx, `
	SELECT student_id, nisn, name, class_id
	FROM students
	WHERE student_id = ?`, id)
}

func (d *MySQLDirectory) FindStudentByNISN(ctx context.Context, nisn string) (*Student, error) {
	return d.findStudent(ctx, `
	SELECT student_id, nisn, name, class_id
	FROM students
	WHERE nisn = ?`, nisn)
}

func (d *MySQLDirectory) findStudent(ctx context.Context, q string, arg string) (*Student, error) {
	var s Student
	err := d.db.QueryRowContext(ctx, q, arg).Scan(&s.ID, &s.NISN, &s.Name, &s.ClassID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("student not found")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const scheduleColumns = `schedule_id, class_id, subject, teacher_id, day_of_week,
	start_time, end_time, semester, academic_year`

func scanSchedule(sc interface{ Scan(...any) error }) (ScheduleSlot, error) {
	var (
		s   ScheduleSlot
		dow int
	)
	err := sc.Scan(&s.ID, &s.ClassID, &s.Subject, &s.TeacherID, &dow,
		&s.StartTime, &s.EndTime, &s.Semester, &s.AcademicYear)
	s.DayOfWeek = time.Weekday(dow)
	return s, err
}

func (d *MySQLDirectory) GetSchedule(ctx context.Context, id string) (*ScheduleSlot, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedule_slots WHERE schedule_id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("schedule not found")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *MySQLDirectory) ListSchedulesByClass(ctx context.Context, classID string) ([]ScheduleSlot, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT `+scheduleColumns+`
	FROM schedule_slots
	WHERE class_id = ?
	ORDER BY day_of_week, start_time, schedule_id`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleSlot
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *MySQLDirectory) Holidays(ctx context.Context, from, to time.Time) (map[string]bool, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT DATE_FORMAT(holiday_date, '%Y-%m-%d')
	FROM holidays
	WHERE holiday_date BETWEEN ? AND ?`, formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out[d] = true
	}
	return out, rows.Err()
}

// ===== in-memory（テスト・demo モード用） =====

type MemoryDirectory struct {
	mu        sync.RWMutex
	students  map[string]Student
	schedules map[string]ScheduleSlot
	holidays  map[string]bool
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		students:  make(map[string]Student),
		schedules: make(map[string]ScheduleSlot),
		holidays:  make(map[string]bool),
	}
}

func (d *MemoryDirectory) AddStudent(s Student) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.students[s.ID] = s
}

func (d *MemoryDirectory) AddSchedule(s ScheduleSlot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedules[s.ID] = s
}

// AddHoliday: date は YYYY-MM-DD
func (d *MemoryDirectory) AddHoliday(date string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holidays[date] = true
}

func (d *MemoryDirectory) GetStudent(_ context.Context, id string) (*Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.students[id]
	if !ok {
		return nil, ErrNotFound("student not found")
	}
	return &s, nil
}

func (d *MemoryDirectory) FindStudentByNISN(_ context.Context, nisn string) (*Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.students {
		if s.NISN == nisn {
			s := s
			return &s, nil
		}
	}
	return nil, ErrNotFound("student not found")
}

func (d *MemoryDirectory) GetSchedule(_ context.Context, id string) (*ScheduleSlot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.schedules[id]
	if !ok {
		return nil, ErrNotFound("schedule not found")
	}
	return &s, nil
}

func (d *MemoryDirectory) ListSchedulesByClass(_ context.Context, classID string) ([]ScheduleSlot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []ScheduleSlot
	for _, s := range d.schedules {
		if s.ClassID == classID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *MemoryDirectory) Holidays(_ context.Context, from, to time.Time) (map[string]bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lo, hi := formatDate(from), formatDate(to)
	out := make(map[string]bool)
	for day := range d.holidays {
		if day >= lo && day <= hi {
			out[day] = true
		}
	}
	return out, nil
}
