package attendance

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Status: 出欠ステータス（境界で受け付ける語彙はこの6つのみ）
type Status string

const (
	StatusPresent    Status = "present"
	StatusLate       Status = "late"
	StatusExcused    Status = "excused"     // izin
	StatusSick       Status = "sick"        // sakit
	StatusAbsent     Status = "absent"      // alpha
	StatusEarlyLeave Status = "early_leave" // pulang
)

var AllStatuses = []Status{
	StatusPresent,
	StatusLate,
	StatusExcused,
	StatusSick,
	StatusAbsent,
	StatusEarlyLeave,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusExcused, StatusSick, StatusAbsent, StatusEarlyLeave:
		return true
	default:
		return false
	}
}

// Attended: 出席率の分子に数えるステータス
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

// ParseStatus: 完全一致のみ。大文字小文字の揺れや別名は受け付けない
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", ErrUnknownStatus(fmt.Sprintf("unknown status %q", v))
	}
	return s, nil
}

type Via string

const (
	ViaQRScan Via = "qr_scan"
	ViaManual Via = "manual"
)

// Key: アクティブな記録は (student, schedule, date) ごとに最大1件
type Key struct {
	StudentID  string
	ScheduleID string
	Date       string // YYYY-MM-DD
}

func (k Key) String() string {
	return k.StudentID + "/" + k.ScheduleID + "/" + k.Date
}

// Record: 出欠記録。上書きはせず、新しい行を作って旧行を superseded にする
type Record struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	ScheduleID   string    `json:"schedule_id"`
	Date         string    `json:"date"`
	Status       Status    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	CheckInTime  string    `json:"jam_masuk,omitempty"` // late のとき HH:MM
	Period       string    `json:"period,omitempty"`    // early_leave のとき 時限
	RecordedAt   time.Time `json:"recorded_at"`
	RecordedVia  Via       `json:"recorded_via"`
	RecordedBy   string    `json:"recorded_by,omitempty"`
	DocumentRef  string    `json:"document_ref,omitempty"`
	Superseded   bool      `json:"superseded"`
	SupersededBy string    `json:"superseded_by,omitempty"`
}

func (r Record) Key() Key {
	return Key{StudentID: r.StudentID, ScheduleID: r.ScheduleID, Date: r.Date}
}

// Student: マスタデータ側の所有。ここでは参照のみ
type Student struct {
	ID      string `json:"id"`
	NISN    string `json:"nisn"`
	Name    string `json:"name"`
	ClassID string `json:"class_id"`
}

// ScheduleSlot: 時間割の1コマ。作成後は不変
type ScheduleSlot struct {
	ID           string       `json:"id"`
	ClassID      string       `json:"class_id"`
	Subject      string       `json:"subject"`
	TeacherID    string       `json:"teacher_id"`
	DayOfWeek    time.Weekday `json:"day_of_week"`
	StartTime    string       `json:"start_time"` // HH:MM
	EndTime      string       `json:"end_time"`   // HH:MM
	Semester     string       `json:"semester"`
	AcademicYear string       `json:"academic_year"`
}

// StartOn: date（学校TZの0時）におけるコマ開始時刻
func (s ScheduleSlot) StartOn(date time.Time) (time.Time, error) {
	hm, err := time.Parse(ClockLayout, s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule %s: invalid start_time %q: %w", s.ID, s.StartTime, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, date.Location()), nil
}

// QRToken: 1コマに紐づく使い捨てトークン。平文の Token は発行時のみ返す
type QRToken struct {
	ID         string     `json:"id"`
	Token      string     `json:"token,omitempty"`
	Digest     string     `json:"-"`
	ScheduleID string     `json:"schedule_id"`
	IssuedBy   string     `json:"issued_by,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RedeemedBy string     `json:"redeemed_by_student_id,omitempty"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

func (t QRToken) Redeemed() bool { return t.RedeemedBy != "" }

// ===== date helpers =====

func parseDate(v string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, v, loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate(fmt.Sprintf("date must be YYYY-MM-DD, got %q", v))
	}
	return t, nil
}

// dateOf: 学校TZでの暦日（0時）
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func formatDate(t time.Time) string { return t.Format(DateLayout) }
