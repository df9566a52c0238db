package attendance

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const tokenBytes = 32

// newToken: 平文（QRに載せる値）と、DBに保存する digest
func newToken() (string, string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	return plain, Digest(plain), nil
}

// Digest: トークンの BLAKE2b-256（hex）。平文はDBに残さない
func Digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssueToken: 教員がコマのチェックインを開始する。validFor=0 は既定値
func (s *Service) IssueToken(ctx context.Context, scheduleID string, validFor time.Duration, issuedBy string) (QRToken, error) {
	scheduleID = strings.TrimSpace(scheduleID)
	if scheduleID == "" {
		return QRToken{}, ErrInvalid("schedule_id is required")
	}
	if validFor == 0 {
		validFor = s.defaultValidFor
	}
	if validFor < time.Second || validFor > s.maxValidFor {
		return QRToken{}, ErrInvalid(fmt.Sprintf("valid_for must be between 1s and %s", s.maxValidFor))
	}

	slot, err := s.dir.GetSchedule(ctx, scheduleID)
	if err != nil {
		return QRToken{}, err
	}
	now := s.clock.Now()
	if err := s.resolver.checkDate(ctx, slot, now); err != nil {
		return QRToken{}, err
	}

	id, err := s.ids.New()
	if err != nil {
		return QRToken{}, err
	}
	plain, digest, err := newToken()
	if err != nil {
		return QRToken{}, err
	}
	tok := QRToken{
		ID:         id,
		Token:      plain,
		Digest:     digest,
		ScheduleID: slot.ID,
		IssuedBy:   issuedBy,
		IssuedAt:   now.UTC(),
		ExpiresAt:  now.Add(validFor).UTC(),
	}
	if err := s.repo.SaveToken(ctx, tok); err != nil {
		return QRToken{}, err
	}
	return tok, nil
}

// LookupToken: QR画面の再表示・状態確認用（平文は返さない）
func (s *Service) LookupToken(ctx context.Context, token string) (*QRToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenUnknown("qr token not found")
	}
	tok, err := s.repo.GetToken(ctx, Digest(token))
	if err != nil {
		return nil, err
	}
	tok.Token = ""
	return tok, nil
}

// Redeem: 生徒がQRを読み取る。at が開始時刻を1分以上過ぎていれば late、
// その場合 jam_masuk と理由はここで埋める
func (s *Service) Redeem(ctx context.Context, token, studentID string, at time.Time) (Record, error) {
	token = strings.TrimSpace(token)
	studentID = strings.TrimSpace(studentID)
	if token == "" {
		return Record{}, ErrTokenUnknown("qr token not found")
	}
	if studentID == "" {
		return Record{}, ErrInvalid("student_id is required")
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	digest := Digest(token)
	tok, err := s.repo.GetToken(ctx, digest)
	if err != nil {
		return Record{}, err
	}
	if tok.Redeemed() {
		return Record{}, ErrTokenAlreadyUsed("qr token already redeemed")
	}
	if at.After(tok.ExpiresAt) {
		return Record{}, ErrTokenExpired(fmt.Sprintf("qr token expired at %s", tok.ExpiresAt.In(s.loc).Format(time.RFC3339)))
	}
	if at.Before(tok.IssuedAt) {
		return Record{}, ErrInvalid("scan time precedes token issue time")
	}

	slot, err := s.dir.GetSchedule(ctx, tok.ScheduleID)
	if err != nil {
		return Record{}, err
	}
	day := dateOf(at, s.loc)
	punctuality, err := classify(slot, day, at)
	if err != nil {
		return Record{}, err
	}
	e := Entry{
		StudentID:  studentID,
		ScheduleID: tok.ScheduleID,
		Date:       formatDate(day),
		Status:     string(StatusPresent),
	}
	if punctuality == Late {
		jam := at.In(s.loc).Format(ClockLayout)
		e.Status = string(StatusLate)
		e.CheckInTime = jam
		e.Reason = "late QR check-in at " + jam
	}

	t, err := s.prepare(ctx, e)
	if err != nil {
		return Record{}, err
	}
	existing, err := s.activeOrNil(ctx, t.entry.Key())
	if err != nil {
		return Record{}, err
	}
	supersedes := ""
	if existing != nil {
		switch {
		case existing.Status == StatusEarlyLeave:
			return Record{}, ErrRequiresConfirmation(*existing)
		case existing.Status.Attended():
			return Record{}, ErrConflict("attendance already recorded for " + existing.Key().String())
		default:
			supersedes = existing.ID
		}
	}

	rec, err := s.newRecord(t, ViaQRScan, studentID)
	if err != nil {
		return Record{}, err
	}
	rec.RecordedAt = at.UTC()
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := s.repo.ClaimToken(ctx, digest, studentID, at, rec, supersedes); err != nil {
		return Record{}, err
	}
	s.invalidate(ctx, rec.StudentID, t.slot.ClassID)
	return rec, nil
}
