package attendance

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	pdb "presensi-backend/internal/platform/db"
)

//go:embed schema.sql
var Schema string

// Migrate: schema.sql を1文ずつ実行（DSN で multiStatements を有効にしていないため）
func Migrate(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isCommentOnly(stmt) {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

type MySQLRepository struct{ db *sql.DB }

func NewMySQLRepository(db *sql.DB) *MySQLRepository { return &MySQLRepository{db: db} }

const recordColumns = `record_id, student_id, schedule_id, DATE_FORMAT(attended_on, '%Y-%m-%d') AS attended_on,
	status, reason, check_in_time, period, recorded_at, recorded_via, recorded_by,
	document_ref, superseded, superseded_by`

// DB行に対応（スキャン用）
type recordRow struct {
	ID           string
	StudentID    string
	ScheduleID   string
	Date         string
	Status       string
	Reason       sql.NullString
	CheckInTime  sql.NullString
	Period       sql.NullString
	RecordedAt   time.Time
	RecordedVia  string
	RecordedBy   sql.NullString
	DocumentRef  sql.NullString
	Superseded   bool
	SupersededBy sql.NullString
}

func (r *recordRow) scan(sc interface{ Scan(...any) error }) error {
	return sc.Scan(&r.ID, &r.StudentID, &r.ScheduleID, &r.Date, &r.Status, &r.Reason,
		&r.CheckInTime, &r.Period, &r.RecordedAt, &r.RecordedVia, &r.RecordedBy,
		&r.DocumentRef, &r.Superseded, &r.SupersededBy)
}

func (r recordRow) toModel() Record {
	return Record{
		ID:           r.ID,
		StudentID:    r.StudentID,
		ScheduleID:   r.ScheduleID,
		Date:         r.Date,
		Status:       Status(r.Status),
		Reason:       r.Reason.String,
		CheckInTime:  r.CheckInTime.String,
		Period:       r.Period.String,
		RecordedAt:   r.RecordedAt.UTC(),
		RecordedVia:  Via(r.RecordedVia),
		RecordedBy:   r.RecordedBy.String,
		DocumentRef:  r.DocumentRef.String,
		Superseded:   r.Superseded,
		SupersededBy: r.SupersededBy.String,
	}
}

func (s *MySQLRepository) GetActive(ctx context.Context, key Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+recordColumns+`
	FROM attendance_records
	WHERE student_id = ? AND schedule_id = ? AND attended_on = ? AND active_flag = 1`,
		key.StudentID, key.ScheduleID, key.Date)
	var r recordRow
	if err := r.scan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("attendance record not found")
		}
		return nil, err
	}
	rec := r.toModel()
	return &rec, nil
}

func (s *MySQLRepository) History(ctx context.Context, key Key) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+recordColumns+`
	FROM attendance_records
	WHERE student_id = ? AND schedule_id = ? AND attended_on = ?
	ORDER BY recorded_at ASC, record_id ASC`,
		key.StudentID, key.ScheduleID, key.Date)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r recordRow
		if err := r.scan(rows); err != nil {
			return nil, err
		}
		out = append(out, r.toModel())
	}
	return out, rows.Err()
}

func insertRecord(ctx context.Context, tx pdb.DBTX, rec Record) error {
	const q = `
	INSERT INTO attendance_records
	(record_id, student_id, schedule_id, attended_on, status, reason, check_in_time, period,
	 recorded_at, recorded_via, recorded_by, document_ref, superseded, active_flag)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1)`
	_, err := tx.ExecContext(ctx, q,
		rec.ID, rec.StudentID, rec.ScheduleID, rec.Date, string(rec.Status),
		strOrNil(rec.Reason), strOrNil(rec.CheckInTime), strOrNil(rec.Period),
		rec.RecordedAt.UTC(), string(rec.RecordedVia), strOrNil(rec.RecordedBy),
		strOrNil(rec.DocumentRef),
	)
	if pdb.IsDuplicateKey(err) {
		return ErrConflict("attendance already recorded for " + rec.Key().String())
	}
	return err
}

func supersedeRow(ctx context.Context, tx pdb.DBTX, oldID, newID string) error {
	res, err := tx.ExecContext(ctx, `
	UPDATE attendance_records
	SET superseded = 1, active_flag = NULL, superseded_by = ?
	WHERE record_id = ? AND active_flag = 1`, newID, oldID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff != 1 {
		return ErrConflict("attendance record was changed by another writer")
	}
	return nil
}

func (s *MySQLRepository) Insert(ctx context.Context, rec Record) error {
	return insertRecord(ctx, s.db, rec)
}

func (s *MySQLRepository) Supersede(ctx context.Context, oldID string, rec Record) error {
	return pdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx pdb.DBTX) error {
		if err := supersedeRow(ctx, tx, oldID, rec.ID); err != nil {
			return err
		}
		return insertRecord(ctx, tx, rec)
	})
}

func (s *MySQLRepository) ListActive(ctx context.Context, f RecordFilter) ([]Record, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + recordColumns + ` FROM attendance_records WHERE active_flag = 1`)
	if f.StudentID != "" {
		sb.WriteString(` AND student_id = ?`)
		args = append(args, f.StudentID)
	}
	if len(f.ScheduleIDs) > 0 {
		sb.WriteString(` AND schedule_id IN (?` + strings.Repeat(`, ?`, len(f.ScheduleIDs)-1) + `)`)
		for _, id := range f.ScheduleIDs {
			args = append(args, id)
		}
	}
	if f.From != "" {
		sb.WriteString(` AND attended_on >= ?`)
		args = append(args, f.From)
	}
	if f.To != "" {
		sb.WriteString(` AND attended_on <= ?`)
		args = append(args, f.To)
	}
	sb.WriteString(` ORDER BY attended_on ASC, recorded_at ASC, record_id ASC`)

	// 集計用の読み取りは読み取り専用Txで一貫したスナップショットを読む
	var out []Record
	err := pdb.ReadOnly(ctx, s.db, func(ctx context.Context, tx pdb.DBTX) error {
		rows, err := tx.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		out, err = collectRecords(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ===== QR tokens =====

func (s *MySQLRepository) SaveToken(ctx context.Context, tok QRToken) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO qr_tokens (token_id, token_digest, schedule_id, issued_by, issued_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.Digest, tok.ScheduleID, strOrNil(tok.IssuedBy), tok.IssuedAt.UTC(), tok.ExpiresAt.UTC())
	if pdb.IsDuplicateKey(err) {
		return ErrConflict("qr token already exists")
	}
	return err
}

func (s *MySQLRepository) GetToken(ctx context.Context, digest string) (*QRToken, error) {
	var (
		t          QRToken
		issuedBy   sql.NullString
		redeemedBy sql.NullString
		redeemedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT token_id, token_digest, schedule_id, issued_by, issued_at, expires_at,
	       redeemed_by_student_id, redeemed_at
	FROM qr_tokens
	WHERE token_digest = ?`, digest).Scan(
		&t.ID, &t.Digest, &t.ScheduleID, &issuedBy, &t.IssuedAt, &t.ExpiresAt, &redeemedBy, &redeemedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenUnknown("qr token not found")
	}
	if err != nil {
		return nil, err
	}
	t.IssuedBy = issuedBy.String
	t.RedeemedBy = redeemedBy.String
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	if redeemedAt.Valid {
		v := redeemedAt.Time.UTC()
		t.RedeemedAt = &v
	}
	return &t, nil
}

func (s *MySQLRepository) ClaimToken(ctx context.Context, digest, studentID string, at time.Time, rec Record, supersedes string) error {
	return pdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx pdb.DBTX) error {
		// 1. トークン消費（未消費の行だけを更新）
		res, err := tx.ExecContext(ctx, `
		UPDATE qr_tokens
		SET redeemed_by_student_id = ?, redeemed_at = ?, record_id = ?
		WHERE token_digest = ? AND redeemed_by_student_id IS NULL`,
			studentID, at.UTC(), rec.ID, digest)
		if err != nil {
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if aff != 1 {
			return ErrTokenAlreadyUsed("qr token already redeemed")
		}

		// 2. 記録書き込み
		if supersedes != "" {
			if err := supersedeRow(ctx, tx, supersedes, rec.ID); err != nil {
				return err
			}
		}
		return insertRecord(ctx, tx, rec)
	})
}

// ===== helpers =====

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
