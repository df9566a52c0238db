package attendance

import (
	"context"
	"testing"
	"time"
)

func TestParseStatusVocabulary(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%q) = %q, %v", s, got, err)
		}
	}
	for _, v := range []string{"", "Present", "hadir", "izin", "alpha", "early-leave", " present"} {
		_, err := ParseStatus(v)
		wantCode(t, err, CodeUnknownStatus)
	}
}

func TestRecordRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Record(context.Background(), Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "hadir"}, "t1")
	wantCode(t, err, CodeUnknownStatus)
	if f.repo.Len() != 0 {
		t.Fatalf("nothing should be written, got %d rows", f.repo.Len())
	}
}

func TestRecordDateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		entry Entry
		code  Code
	}{
		{"future", Entry{StudentID: "s1", ScheduleID: "5", Date: nextWeek, Status: "present"}, CodeInvalidDate},
		{"future late without detail", Entry{StudentID: "s1", ScheduleID: "5", Date: nextWeek, Status: "late"}, CodeInvalidDate},
		{"future early_leave without detail", Entry{StudentID: "s1", ScheduleID: "5", Date: nextWeek, Status: "early_leave"}, CodeInvalidDate},
		{"future other class", Entry{StudentID: "s99", ScheduleID: "5", Date: nextWeek, Status: "present"}, CodeInvalidDate},
		{"future unknown schedule", Entry{StudentID: "s1", ScheduleID: "404", Date: nextWeek, Status: "present"}, CodeInvalidDate},
		{"sunday", Entry{StudentID: "s1", ScheduleID: "5", Date: sunday, Status: "sick"}, CodeInvalidDate},
		{"holiday", Entry{StudentID: "s1", ScheduleID: "5", Date: holiday, Status: "present"}, CodeInvalidDate},
		{"weekday mismatch", Entry{StudentID: "s1", ScheduleID: "7", Date: monday, Status: "present"}, CodeInvalidDate},
		{"malformed", Entry{StudentID: "s1", ScheduleID: "5", Date: "03/03/2025", Status: "present"}, CodeInvalidDate},
		{"unknown schedule", Entry{StudentID: "s1", ScheduleID: "404", Date: monday, Status: "present"}, CodeNotFound},
		// 語彙外のステータスは日付より優先
		{"future unknown status", Entry{StudentID: "s1", ScheduleID: "5", Date: nextWeek, Status: "hadir"}, CodeUnknownStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Record(ctx, tc.entry, "t1")
			wantCode(t, err, tc.code)
		})
	}
	if f.repo.Len() != 0 {
		t.Fatalf("rejected writes must leave no rows, got %d", f.repo.Len())
	}
}

func TestCanRecord(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Resolver()
	ctx := context.Background()

	ok, err := r.CanRecord(ctx, "5", at(monday, "00:00:00"))
	if err != nil || !ok {
		t.Fatalf("monday: got %v, %v", ok, err)
	}
	for _, d := range []string{sunday, holiday, nextWeek} {
		ok, err := r.CanRecord(ctx, "5", at(d, "00:00:00"))
		if err != nil || ok {
			t.Fatalf("%s: got %v, %v; want false, nil", d, ok, err)
		}
	}
	if _, err := r.CanRecord(ctx, "404", at(monday, "00:00:00")); !IsCode(err, CodeNotFound) {
		t.Fatalf("unknown schedule: %v", err)
	}
}

func TestClassifyBoundary(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Resolver()
	ctx := context.Background()
	day := at(monday, "00:00:00")

	cases := []struct {
		hms  string
		want Punctuality
	}{
		{"06:45:00", OnTime},
		{"07:00:00", OnTime},
		{"07:00:59", OnTime},
		{"07:01:00", Late},
		{"07:05:00", Late},
	}
	for _, tc := range cases {
		got, err := r.Classify(ctx, "5", day, at(monday, tc.hms))
		if err != nil {
			t.Fatalf("%s: %v", tc.hms, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.hms, got, tc.want)
		}
	}
}

func TestRecordDetailRequirements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := Entry{StudentID: "s1", ScheduleID: "5", Date: monday}

	cases := []struct {
		name string
		mod  func(e *Entry)
		code Code
	}{
		{"sick without reason", func(e *Entry) { e.Status = "sick" }, CodeIncompleteDetail},
		{"excused blank reason", func(e *Entry) { e.Status = "excused"; e.Reason = "   " }, CodeIncompleteDetail},
		{"late without jam_masuk", func(e *Entry) { e.Status = "late"; e.Reason = "macet" }, CodeIncompleteDetail},
		{"late bad jam_masuk", func(e *Entry) { e.Status = "late"; e.Reason = "macet"; e.CheckInTime = "7.10" }, CodeInvalidArgument},
		{"early_leave without period", func(e *Entry) { e.Status = "early_leave"; e.Reason = "sakit kepala" }, CodeIncompleteDetail},
		{"other class", func(e *Entry) { e.Status = "present"; e.StudentID = "s99" }, CodeInvalidArgument},
		{"unknown student", func(e *Entry) { e.Status = "present"; e.StudentID = "nobody" }, CodeNotFound},
		{"missing ids", func(e *Entry) { e.Status = "present"; e.ScheduleID = "" }, CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := base
			tc.mod(&e)
			_, err := f.svc.Record(ctx, e, "t1")
			wantCode(t, err, tc.code)
		})
	}

	// absent は理由なしで良い
	res := f.record(t, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "absent"})
	if res.Record.Status != StatusAbsent || res.Record.RecordedVia != ViaManual {
		t.Fatalf("unexpected record: %+v", res.Record)
	}
}

func TestRecordKeepsOnlyRelevantDetail(t *testing.T) {
	f := newFixture(t)
	res := f.record(t, Entry{
		StudentID: "s1", ScheduleID: "5", Date: monday,
		Status: "sick", Reason: "  Demam\u0301 ", CheckInTime: "07:10", Period: "3",
	})
	if res.Record.CheckInTime != "" || res.Record.Period != "" {
		t.Fatalf("detail of other statuses must be dropped: %+v", res.Record)
	}
	if res.Record.Reason != "Dema\u1e3f" {
		t.Fatalf("reason should be trimmed and NFC, got %q", res.Record.Reason)
	}
	if res.Record.RecordedBy != "t1" {
		t.Fatalf("recorded_by = %q", res.Record.RecordedBy)
	}
}

func TestRecordIdempotent(t *testing.T) {
	f := newFixture(t)
	e := Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "present"}

	first := f.record(t, e)
	if !first.Changed {
		t.Fatal("first write must change state")
	}
	second := f.record(t, e)
	if second.Changed {
		t.Fatal("same status resubmitted must be a no-op")
	}
	if second.Record.ID != first.Record.ID {
		t.Fatalf("no-op should return the existing record, got %s want %s", second.Record.ID, first.Record.ID)
	}
	if f.repo.Len() != 1 {
		t.Fatalf("want exactly one row, got %d", f.repo.Len())
	}
}

func TestRecordSupersedesAndKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.record(t, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "absent"})
	f.clock.Set(f.clock.Now().Add(time.Minute))
	second := f.record(t, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "sick", Reason: "demam"})

	active, err := f.svc.GetRecord(ctx, "s1", "5", monday)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.Record.ID || active.Status != StatusSick {
		t.Fatalf("active record = %+v", active)
	}

	hist, err := f.svc.GetHistory(ctx, "s1", "5", monday)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("want 2 history rows, got %d", len(hist))
	}
	if hist[0].ID != first.Record.ID || !hist[0].Superseded || hist[0].SupersededBy != second.Record.ID {
		t.Fatalf("old row not superseded: %+v", hist[0])
	}
	if hist[1].Superseded {
		t.Fatalf("new row must be active: %+v", hist[1])
	}
}

func TestEarlyLeaveRequiresOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	el := f.record(t, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "early_leave", Reason: "dijemput", Period: "3"})

	_, err := f.svc.Record(ctx, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "present"}, "t1")
	wantCode(t, err, CodeRequiresConfirmation)
	de := err.(*DomainError)
	if de.Existing == nil || de.Existing.ID != el.Record.ID {
		t.Fatalf("confirmation must carry the existing record, got %+v", de.Existing)
	}
	if f.repo.Len() != 1 {
		t.Fatalf("nothing should be written without override, got %d rows", f.repo.Len())
	}

	res, err := f.svc.Record(ctx, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "present", Override: true}, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed || res.Record.Status != StatusPresent {
		t.Fatalf("override should supersede: %+v", res)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetRecord(ctx, "s1", "5", monday)
	wantCode(t, err, CodeNotFound)
	_, err = f.svc.GetHistory(ctx, "s1", "5", monday)
	wantCode(t, err, CodeNotFound)
	_, err = f.svc.GetRecord(ctx, "s1", "5", "2025-3-3")
	wantCode(t, err, CodeInvalidDate)
}

type fakeDocs map[string]bool

func (d fakeDocs) Exists(_ context.Context, ref string) (bool, error) { return d[ref], nil }

func TestRecordChecksDocumentRef(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.repo, f.dir, Options{Location: wib, Clock: f.clock, Documents: fakeDocs{"01HDOC": true}})
	ctx := context.Background()

	_, err := svc.Record(ctx, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "sick", Reason: "demam", DocumentRef: "missing"}, "t1")
	wantCode(t, err, CodeInvalidArgument)

	res, err := svc.Record(ctx, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "sick", Reason: "demam", DocumentRef: "01HDOC"}, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.DocumentRef != "01HDOC" {
		t.Fatalf("document_ref = %q", res.Record.DocumentRef)
	}
}

func TestRecordCancelledContextWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.Record(ctx, Entry{StudentID: "s1", ScheduleID: "5", Date: monday, Status: "present"}, "t1"); err == nil {
		t.Fatal("want error for cancelled context")
	}
	if f.repo.Len() != 0 {
		t.Fatalf("cancelled write left %d rows", f.repo.Len())
	}
}

func TestDecide(t *testing.T) {
	present := &Record{Status: StatusPresent}
	early := &Record{Status: StatusEarlyLeave}

	if d, _ := Decide(nil, StatusAbsent, false); d != DecisionInsert {
		t.Fatalf("nil existing: %v", d)
	}
	if d, _ := Decide(present, StatusPresent, false); d != DecisionNoop {
		t.Fatalf("same status: %v", d)
	}
	if d, _ := Decide(present, StatusSick, false); d != DecisionSupersede {
		t.Fatalf("change: %v", d)
	}
	if d, _ := Decide(early, StatusEarlyLeave, false); d != DecisionNoop {
		t.Fatalf("early_leave resubmit: %v", d)
	}
	if _, err := Decide(early, StatusPresent, false); !IsCode(err, CodeRequiresConfirmation) {
		t.Fatalf("early_leave without override: %v", err)
	}
	if d, err := Decide(early, StatusPresent, true); err != nil || d != DecisionSupersede {
		t.Fatalf("early_leave with override: %v, %v", d, err)
	}
}
