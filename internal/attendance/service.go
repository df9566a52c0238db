package attendance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// DocumentChecker: 添付書類の参照が実在するか（保管はドキュメントストア側）
type DocumentChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// Options: ゼロ値の項目は既定値になる
type Options struct {
	Location        *time.Location
	Clock           Clock
	IDs             IDGen
	DefaultValidFor time.Duration
	MaxValidFor     time.Duration
	BulkWorkers     int
	Cache           StatsCache
	Documents       DocumentChecker
}

// ===== Service =====

type Service struct {
	repo     Repository
	dir      Directory
	resolver *Resolver
	clock    Clock
	ids      IDGen
	loc      *time.Location
	cache    StatsCache
	docs     DocumentChecker

	defaultValidFor time.Duration
	maxValidFor     time.Duration
	workers         int
}

func NewService(repo Repository, dir Directory, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.IDs == nil {
		opts.IDs = ulidGen{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultValidFor <= 0 {
		opts.DefaultValidFor = 2 * time.Minute
	}
	if opts.MaxValidFor <= 0 {
		opts.MaxValidFor = 30 * time.Minute
	}
	if opts.BulkWorkers <= 0 {
		opts.BulkWorkers = 4
	}
	if opts.Cache == nil {
		opts.Cache = noopCache{}
	}
	return &Service{
		repo:            repo,
		dir:             dir,
		resolver:        NewResolver(dir, opts.Clock, opts.Location),
		clock:           opts.Clock,
		ids:             opts.IDs,
		loc:             opts.Location,
		cache:           opts.Cache,
		docs:            opts.Documents,
		defaultValidFor: opts.DefaultValidFor,
		maxValidFor:     opts.MaxValidFor,
		workers:         opts.BulkWorkers,
	}
}

func (s *Service) Resolver() *Resolver { return s.resolver }

// WriteResult: 書き込み結果。Changed=false は冪等な再送
type WriteResult struct {
	Record  Record `json:"record"`
	Changed bool   `json:"changed"`
}

// Record: 手入力1件。QR/一括と同じ検証経路を通る
func (s *Service) Record(ctx context.Context, e Entry, actor string) (WriteResult, error) {
	return s.write(ctx, e, ViaManual, actor)
}

// writeTarget: 検証済みの書き込み対象
type writeTarget struct {
	entry  Entry
	status Status
	day    time.Time
	slot   *ScheduleSlot
}

// prepare: ステータス → 日付（未来日・日曜） → 必須項目 → マスタ → コマの曜日・休日 の順に検証
func (s *Service) prepare(ctx context.Context, e Entry) (writeTarget, error) {
	e = e.normalize()
	if e.StudentID == "" || e.ScheduleID == "" {
		return writeTarget{}, ErrInvalid("student_id and schedule_id are required")
	}
	status, err := ParseStatus(e.Status)
	if err != nil {
		return writeTarget{}, err
	}
	day, err := parseDate(e.Date, s.loc)
	if err != nil {
		return writeTarget{}, err
	}
	// 未来日は詳細や在籍に関係なく INVALID_DATE
	if err := s.resolver.checkCalendar(day); err != nil {
		return writeTarget{}, err
	}
	if err := ValidateDetail(status, e); err != nil {
		return writeTarget{}, err
	}
	slot, err := s.dir.GetSchedule(ctx, e.ScheduleID)
	if err != nil {
		return writeTarget{}, err
	}
	student, err := s.dir.GetStudent(ctx, e.StudentID)
	if err != nil {
		return writeTarget{}, err
	}
	if student.ClassID != slot.ClassID {
		return writeTarget{}, ErrInvalid(fmt.Sprintf("student %s is not enrolled in class %s", student.ID, slot.ClassID))
	}
	if err := s.resolver.checkSlotDay(ctx, slot, day); err != nil {
		return writeTarget{}, err
	}
	if e.DocumentRef != "" && s.docs != nil {
		ok, err := s.docs.Exists(ctx, e.DocumentRef)
		if err != nil {
			return writeTarget{}, err
		}
		if !ok {
			return writeTarget{}, ErrInvalid("document_ref not found")
		}
	}
	return writeTarget{entry: e, status: status, day: day, slot: slot}, nil
}

func (s *Service) write(ctx context.Context, e Entry, via Via, actor string) (WriteResult, error) {
	t, err := s.prepare(ctx, e)
	if err != nil {
		return WriteResult{}, err
	}
	existing, err := s.activeOrNil(ctx, t.entry.Key())
	if err != nil {
		return WriteResult{}, err
	}
	decision, err := Decide(existing, t.status, t.entry.Override)
	if err != nil {
		return WriteResult{}, err
	}
	if decision == DecisionNoop {
		return WriteResult{Record: *existing, Changed: false}, nil
	}

	rec, err := s.newRecord(t, via, actor)
	if err != nil {
		return WriteResult{}, err
	}
	// キャンセル済みなら書き込まない
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	switch decision {
	case DecisionInsert:
		err = s.repo.Insert(ctx, rec)
	case DecisionSupersede:
		err = s.repo.Supersede(ctx, existing.ID, rec)
	}
	if err != nil {
		return WriteResult{}, err
	}
	s.invalidate(ctx, rec.StudentID, t.slot.ClassID)
	return WriteResult{Record: rec, Changed: true}, nil
}

func (s *Service) newRecord(t writeTarget, via Via, actor string) (Record, error) {
	id, err := s.ids.New()
	if err != nil {
		return Record{}, err
	}
	e := t.entry
	rec := Record{
		ID:          id,
		StudentID:   e.StudentID,
		ScheduleID:  e.ScheduleID,
		Date:        formatDate(t.day),
		Status:      t.status,
		Reason:      e.Reason,
		RecordedAt:  s.clock.Now().UTC(),
		RecordedVia: via,
		RecordedBy:  actor,
		DocumentRef: e.DocumentRef,
	}
	// 詳細項目は該当ステータスのときだけ保持する
	if t.status == StatusLate {
		rec.CheckInTime = e.CheckInTime
	}
	if t.status == StatusEarlyLeave {
		rec.Period = e.Period
	}
	return rec, nil
}

func (s *Service) activeOrNil(ctx context.Context, key Key) (*Record, error) {
	rec, err := s.repo.GetActive(ctx, key)
	if IsCode(err, CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecord: (student, schedule, date) のアクティブな記録
func (s *Service) GetRecord(ctx context.Context, studentID, scheduleID, date string) (*Record, error) {
	key, err := s.key(studentID, scheduleID, date)
	if err != nil {
		return nil, err
	}
	return s.repo.GetActive(ctx, key)
}

// GetHistory: superseded を含む監査用の履歴（古い順）
func (s *Service) GetHistory(ctx context.Context, studentID, scheduleID, date string) ([]Record, error) {
	key, err := s.key(studentID, scheduleID, date)
	if err != nil {
		return nil, err
	}
	recs, err := s.repo.History(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound("attendance record not found")
	}
	return recs, nil
}

func (s *Service) key(studentID, scheduleID, date string) (Key, error) {
	studentID = strings.TrimSpace(studentID)
	scheduleID = strings.TrimSpace(scheduleID)
	if studentID == "" || scheduleID == "" {
		return Key{}, ErrInvalid("student_id and schedule_id are required")
	}
	day, err := parseDate(strings.TrimSpace(date), s.loc)
	if err != nil {
		return Key{}, err
	}
	return Key{StudentID: studentID, ScheduleID: scheduleID, Date: formatDate(day)}, nil
}

// invalidate: 統計キャッシュの世代を進める。失敗しても書き込み自体は成功扱い
func (s *Service) invalidate(ctx context.Context, studentID, classID string) {
	for _, scope := range []string{studentScope(studentID), classScope(classID)} {
		if err := s.cache.Bump(ctx, scope); err != nil {
			log.Printf("[WARN] stats cache bump %s: %v", scope, err)
		}
	}
}
