package attendance

import (
	"context"
	"fmt"
	"time"
)

// Punctuality: 開始時刻に対する打刻の判定
type Punctuality string

const (
	OnTime Punctuality = "on_time"
	Late   Punctuality = "late"
)

// 全校共通の休講曜日
const NonSchoolDay = time.Sunday

// Resolver: コマ×日付で記録可能か、打刻が遅刻かを判定する
type Resolver struct {
	dir   Directory
	clock Clock
	loc   *time.Location
}

func NewResolver(dir Directory, clock Clock, loc *time.Location) *Resolver {
	if clock == nil {
		clock = realClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{dir: dir, clock: clock, loc: loc}
}

// CanRecord: 記録不可は (false, nil)。コマが無い・ストレージ障害はエラー
func (r *Resolver) CanRecord(ctx context.Context, scheduleID string, date time.Time) (bool, error) {
	slot, err := r.dir.GetSchedule(ctx, scheduleID)
	if err != nil {
		return false, err
	}
	if err := r.checkDate(ctx, slot, date); err != nil {
		if IsCode(err, CodeInvalidDate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// checkDate: 記録できない理由を INVALID_DATE で返す
func (r *Resolver) checkDate(ctx context.Context, slot *ScheduleSlot, date time.Time) error {
	if err := r.checkCalendar(date); err != nil {
		return err
	}
	return r.checkSlotDay(ctx, slot, date)
}

// checkCalendar: コマに依存しない判定（未来日・日曜）
func (r *Resolver) checkCalendar(date time.Time) error {
	day := dateOf(date, r.loc)
	today := dateOf(r.clock.Now(), r.loc)

	if day.After(today) {
		return ErrInvalidDate(fmt.Sprintf("%s is in the future", formatDate(day)))
	}
	// 日曜はコマ設定に関わらず記録不可
	if day.Weekday() == NonSchoolDay {
		return ErrInvalidDate(fmt.Sprintf("%s is not a school day", formatDate(day)))
	}
	return nil
}

// checkSlotDay: コマの曜日と休日
func (r *Resolver) checkSlotDay(ctx context.Context, slot *ScheduleSlot, date time.Time) error {
	day := dateOf(date, r.loc)
	if day.Weekday() != slot.DayOfWeek {
		return ErrInvalidDate(fmt.Sprintf("schedule %s runs on %s, not %s",
			slot.ID, slot.DayOfWeek, day.Weekday()))
	}
	holidays, err := r.dir.Holidays(ctx, day, day)
	if err != nil {
		return err
	}
	if holidays[formatDate(day)] {
		return ErrInvalidDate(fmt.Sprintf("%s is a school holiday", formatDate(day)))
	}
	return nil
}

func (r *Resolver) Classify(ctx context.Context, scheduleID string, date time.Time, at time.Time) (Punctuality, error) {
	slot, err := r.dir.GetSchedule(ctx, scheduleID)
	if err != nil {
		return "", err
	}
	return classify(slot, dateOf(date, r.loc), at)
}

// classify: 開始から1分以上経過していれば late（開始分ちょうどは on_time）
func classify(slot *ScheduleSlot, day time.Time, at time.Time) (Punctuality, error) {
	start, err := slot.StartOn(day)
	if err != nil {
		return "", err
	}
	if at.Sub(start) >= time.Minute {
		return Late, nil
	}
	return OnTime, nil
}
