package attendance

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Entry: 手入力・一括・QR の全経路で共通の書き込み要求
type Entry struct {
	StudentID   string `json:"student_id" binding:"required"`
	ScheduleID  string `json:"schedule_id" binding:"required"`
	Date        string `json:"date" binding:"required"`
	Status      string `json:"status" binding:"required"`
	Reason      string `json:"reason,omitempty"`
	CheckInTime string `json:"jam_masuk,omitempty"`
	Period      string `json:"period,omitempty"`
	DocumentRef string `json:"document_ref,omitempty"`
	Override    bool   `json:"override,omitempty"`
}

func (e Entry) Key() Key {
	return Key{StudentID: e.StudentID, ScheduleID: e.ScheduleID, Date: e.Date}
}

// normalize: 自由記述は前後空白を除去し NFC に揃える
func (e Entry) normalize() Entry {
	e.StudentID = strings.TrimSpace(e.StudentID)
	e.ScheduleID = strings.TrimSpace(e.ScheduleID)
	e.Date = strings.TrimSpace(e.Date)
	e.Reason = norm.NFC.String(strings.TrimSpace(e.Reason))
	e.CheckInTime = strings.TrimSpace(e.CheckInTime)
	e.Period = norm.NFC.String(strings.TrimSpace(e.Period))
	e.DocumentRef = strings.TrimSpace(e.DocumentRef)
	return e
}

// ValidateDetail: ステータスごとの必須項目
//   - late:        reason + jam_masuk
//   - early_leave: reason + period
//   - excused/sick: reason
func ValidateDetail(status Status, e Entry) error {
	var missing []string
	switch status {
	case StatusLate:
		if e.Reason == "" {
			missing = append(missing, "reason")
		}
		if e.CheckInTime == "" {
			missing = append(missing, "jam_masuk")
		}
	case StatusEarlyLeave:
		if e.Reason == "" {
			missing = append(missing, "reason")
		}
		if e.Period == "" {
			missing = append(missing, "period")
		}
	case StatusExcused, StatusSick:
		if e.Reason == "" {
			missing = append(missing, "reason")
		}
	}
	if len(missing) > 0 {
		return ErrIncompleteDetail(fmt.Sprintf("%s requires %s", status, strings.Join(missing, ", ")))
	}
	if e.CheckInTime != "" {
		if _, err := time.Parse(ClockLayout, e.CheckInTime); err != nil {
			return ErrInvalid(fmt.Sprintf("jam_masuk must be HH:MM, got %q", e.CheckInTime))
		}
	}
	return nil
}

// Decision: 書き込み方法
type Decision int

const (
	DecisionInsert    Decision = iota + 1 // 未記録 → 新規
	DecisionSupersede                     // 既存を superseded にして新規
	DecisionNoop                          // 同じステータスで再送（冪等）
)

// Decide: 状態遷移の判定。early_leave からの変更は override 必須
func Decide(existing *Record, next Status, override bool) (Decision, error) {
	if existing == nil {
		return DecisionInsert, nil
	}
	if existing.Status == next {
		return DecisionNoop, nil
	}
	if existing.Status == StatusEarlyLeave && !override {
		return 0, ErrRequiresConfirmation(*existing)
	}
	return DecisionSupersede, nil
}
