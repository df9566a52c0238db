package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

var wib = time.FixedZone("WIB", 7*60*60)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memCache: 世代番号つきキャッシュの検証用
type memCache struct {
	mu   sync.Mutex
	gens map[string]int64
	vals map[string][]byte
	hits int
}

func newMemCache() *memCache {
	return &memCache{gens: map[string]int64{}, vals: map[string][]byte{}}
}

func (m *memCache) Generation(_ context.Context, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[scope], nil
}

func (m *memCache) Bump(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[scope]++
	return nil
}

func (m *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.vals[key]
	if !ok {
		return false, nil
	}
	m.hits++
	return true, json.Unmarshal(b, dst)
}

func (m *memCache) Set(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = b
	return nil
}

const (
	monday    = "2025-03-03"
	wednesday = "2025-02-26"
	sunday    = "2025-03-02"
	holiday   = "2025-02-24"
	nextWeek  = "2025-03-10"
)

// at: date の hh:mm:ss（WIB）
func at(date, hms string) time.Time {
	t, err := time.ParseInLocation(DateLayout+" 15:04:05", date+" "+hms, wib)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	dir   *MemoryDirectory
	clock *fakeClock
	cache *memCache
}

// newFixture: クラス X-1（生徒 s1..s10）と X-2（s99）。
// コマ 5: 月 07:00、6: 月 10:00、7: 水 07:00、8: X-2 の月 07:00
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := NewMemoryDirectory()
	for i := 1; i <= 10; i++ {
		dir.AddStudent(Student{
			ID:      fmt.Sprintf("s%d", i),
			NISN:    fmt.Sprintf("00123456%02d", i),
			Name:    fmt.Sprintf("Siswa %d", i),
			ClassID: "X-1",
		})
	}
	dir.AddStudent(Student{ID: "s99", NISN: "0099999999", Name: "Siswa Lain", ClassID: "X-2"})
	dir.AddSchedule(ScheduleSlot{ID: "5", ClassID: "X-1", Subject: "Matematika", TeacherID: "t1", DayOfWeek: time.Monday, StartTime: "07:00", EndTime: "08:30"})
	dir.AddSchedule(ScheduleSlot{ID: "6", ClassID: "X-1", Subject: "Biologi", TeacherID: "t2", DayOfWeek: time.Monday, StartTime: "10:00", EndTime: "11:30"})
	dir.AddSchedule(ScheduleSlot{ID: "7", ClassID: "X-1", Subject: "Fisika", TeacherID: "t1", DayOfWeek: time.Wednesday, StartTime: "07:00", EndTime: "08:30"})
	dir.AddSchedule(ScheduleSlot{ID: "8", ClassID: "X-2", Subject: "Kimia", TeacherID: "t3", DayOfWeek: time.Monday, StartTime: "07:00", EndTime: "08:30"})
	dir.AddHoliday(holiday)

	clock := &fakeClock{t: at(monday, "12:00:00")}
	repo := NewMemoryRepository()
	cache := newMemCache()
	svc := NewService(repo, dir, Options{
		Location: wib,
		Clock:    clock,
		Cache:    cache,
	})
	return &fixture{svc: svc, repo: repo, dir: dir, clock: clock, cache: cache}
}

func (f *fixture) record(t *testing.T, e Entry) WriteResult {
	t.Helper()
	res, err := f.svc.Record(context.Background(), e, "t1")
	if err != nil {
		t.Fatalf("Record(%+v): %v", e, err)
	}
	return res
}

func wantCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s, got nil", code)
	}
	if got := CodeOf(err); got != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}
