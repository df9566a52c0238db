package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Scope: StudentID と ClassID のどちらか一方を指定
type Scope struct {
	StudentID string
	ClassID   string
}

type RateResult struct {
	StudentID string  `json:"student_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Attended  int     `json:"attended"`
	Owed      int     `json:"owed"`
	Rate      float64 `json:"rate"`
}

// AttendanceRate: owed=0 のときは 0（NaN にしない）
func AttendanceRate(attended, owed int) float64 {
	if owed <= 0 {
		return 0
	}
	return 100 * float64(attended) / float64(owed)
}

// ConsecutiveAbsences: 日付順の記録の末尾から数えた absent の連続数。
// 途中に別ステータスがあればそこで止まる（過去最長ではない）
func ConsecutiveAbsences(records []Record) int {
	n := 0
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Status != StatusAbsent {
			break
		}
		n++
	}
	return n
}

// CountStatuses: 6ステータスすべてをキーに持つ（0埋め）
func CountStatuses(records []Record) map[Status]int {
	out := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		out[st] = 0
	}
	for _, r := range records {
		if r.Superseded {
			continue
		}
		out[r.Status]++
	}
	return out
}

// OwedDays: [from, to] の各日について、その曜日のコマ数を合計する（日曜・休日は除く）
func OwedDays(slots []ScheduleSlot, from, to time.Time, holidays map[string]bool) int {
	perDay := make(map[time.Weekday]int)
	for _, s := range slots {
		perDay[s.DayOfWeek]++
	}
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == NonSchoolDay || holidays[formatDate(d)] {
			continue
		}
		n += perDay[d.Weekday()]
	}
	return n
}

// dateRange: from/to を検証し、to は今日で打ち切る
func (s *Service) dateRange(from, to string) (time.Time, time.Time, error) {
	f, err := parseDate(strings.TrimSpace(from), s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := parseDate(strings.TrimSpace(to), s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, ErrInvalid("to must be >= from")
	}
	if today := dateOf(s.clock.Now(), s.loc); t.After(today) {
		t = today
	}
	return f, t, nil
}

// Rate: 出席率（present+late / 出席すべきコマ数 × 100）
func (s *Service) Rate(ctx context.Context, studentID, from, to string) (RateResult, error) {
	studentID = strings.TrimSpace(studentID)
	f, t, err := s.dateRange(from, to)
	if err != nil {
		return RateResult{}, err
	}
	student, err := s.dir.GetStudent(ctx, studentID)
	if err != nil {
		return RateResult{}, err
	}
	key := fmt.Sprintf("rate:%s:%s", formatDate(f), formatDate(t))
	return cached(ctx, s.cache, studentScope(student.ID), key, func() (RateResult, error) {
		return s.computeRate(ctx, student, f, t)
	})
}

func (s *Service) computeRate(ctx context.Context, student *Student, f, t time.Time) (RateResult, error) {
	res := RateResult{StudentID: student.ID, From: formatDate(f), To: formatDate(t)}
	// from が未来（to を今日で打ち切った結果 from > to）なら出席すべき日は無い
	if t.Before(f) {
		return res, nil
	}
	slots, err := s.dir.ListSchedulesByClass(ctx, student.ClassID)
	if err != nil {
		return RateResult{}, err
	}
	if len(slots) == 0 {
		return res, nil
	}
	holidays, err := s.dir.Holidays(ctx, f, t)
	if err != nil {
		return RateResult{}, err
	}
	res.Owed = OwedDays(slots, f, t, holidays)

	recs, err := s.repo.ListActive(ctx, RecordFilter{
		StudentID:   student.ID,
		ScheduleIDs: slotIDs(slots),
		From:        res.From,
		To:          res.To,
	})
	if err != nil {
		return RateResult{}, err
	}
	for _, r := range recs {
		// 分母に入らない日（日曜・休日）の記録は分子にも入れない
		if !r.Status.Attended() || !s.owedOn(r.Date, holidays) {
			continue
		}
		res.Attended++
	}
	res.Rate = AttendanceRate(res.Attended, res.Owed)
	return res, nil
}

// StatusCounts: 生徒またはクラス単位のステータス別件数（アクティブな記録のみ）
func (s *Service) StatusCounts(ctx context.Context, scope Scope, from, to string) (map[Status]int, error) {
	scope.StudentID = strings.TrimSpace(scope.StudentID)
	scope.ClassID = strings.TrimSpace(scope.ClassID)
	if (scope.StudentID == "") == (scope.ClassID == "") {
		return nil, ErrInvalid("exactly one of student_id or class_id is required")
	}
	f, t, err := s.dateRange(from, to)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("counts:%s:%s", formatDate(f), formatDate(t))

	if scope.StudentID != "" {
		if _, err := s.dir.GetStudent(ctx, scope.StudentID); err != nil {
			return nil, err
		}
		return cached(ctx, s.cache, studentScope(scope.StudentID), key, func() (map[Status]int, error) {
			recs, err := s.repo.ListActive(ctx, RecordFilter{StudentID: scope.StudentID, From: formatDate(f), To: formatDate(t)})
			if err != nil {
				return nil, err
			}
			return CountStatuses(recs), nil
		})
	}

	return cached(ctx, s.cache, classScope(scope.ClassID), key, func() (map[Status]int, error) {
		slots, err := s.dir.ListSchedulesByClass(ctx, scope.ClassID)
		if err != nil {
			return nil, err
		}
		if len(slots) == 0 {
			return CountStatuses(nil), nil
		}
		recs, err := s.repo.ListActive(ctx, RecordFilter{ScheduleIDs: slotIDs(slots), From: formatDate(f), To: formatDate(t)})
		if err != nil {
			return nil, err
		}
		return CountStatuses(recs), nil
	})
}

// StudentConsecutiveAbsences: 生徒の全アクティブ記録を日付→開始時刻順に並べて末尾の absent 連続数を返す
func (s *Service) StudentConsecutiveAbsences(ctx context.Context, studentID string) (int, error) {
	studentID = strings.TrimSpace(studentID)
	student, err := s.dir.GetStudent(ctx, studentID)
	if err != nil {
		return 0, err
	}
	recs, err := s.repo.ListActive(ctx, RecordFilter{StudentID: student.ID})
	if err != nil {
		return 0, err
	}
	slots, err := s.dir.ListSchedulesByClass(ctx, student.ClassID)
	if err != nil {
		return 0, err
	}
	start := make(map[string]string, len(slots))
	for _, sl := range slots {
		start[sl.ID] = sl.StartTime
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if start[a.ScheduleID] != start[b.ScheduleID] {
			return start[a.ScheduleID] < start[b.ScheduleID]
		}
		return a.RecordedAt.Before(b.RecordedAt)
	})
	return ConsecutiveAbsences(recs), nil
}

func slotIDs(slots []ScheduleSlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.ID)
	}
	return out
}

// owedOn: OwedDays が数える日か
func (s *Service) owedOn(date string, holidays map[string]bool) bool {
	day, err := parseDate(date, s.loc)
	if err != nil {
		return false
	}
	return day.Weekday() != NonSchoolDay && !holidays[date]
}
