package attendance

import (
	"context"
	"time"
)

// Repository: 出欠記録とQRトークンの永続化。
// Insert / Supersede / ClaimToken はそれぞれ1トランザクションで完結し、
// 途中状態が読み手に見えることはない
type Repository interface {
	// GetActive: アクティブな記録。無ければ NOT_FOUND
	GetActive(ctx context.Context, key Key) (*Record, error)
	// History: superseded を含む全履歴（古い順）
	History(ctx context.Context, key Key) ([]Record, error)
	// Insert: アクティブな記録が既にあれば CONFLICT
	Insert(ctx context.Context, rec Record) error
	// Supersede: oldID を superseded にして rec を挿入。oldID が既に非アクティブなら CONFLICT
	Supersede(ctx context.Context, oldID string, rec Record) error
	// ListActive: 統計用。アクティブな記録のみ
	ListActive(ctx context.Context, f RecordFilter) ([]Record, error)

	SaveToken(ctx context.Context, tok QRToken) error
	// GetToken: digest で検索。無ければ TOKEN_UNKNOWN
	GetToken(ctx context.Context, digest string) (*QRToken, error)
	// ClaimToken: トークン消費と記録書き込みを1トランザクションで行う。
	// 消費済みなら TOKEN_ALREADY_USED、記録側が競合したら CONFLICT（どちらも何も残らない）
	ClaimToken(ctx context.Context, digest, studentID string, at time.Time, rec Record, supersedes string) error
}

// RecordFilter: 空の項目は条件にしない。From/To は YYYY-MM-DD（両端含む）
type RecordFilter struct {
	StudentID   string
	ScheduleIDs []string
	From        string
	To          string
}

func (f RecordFilter) match(r Record) bool {
	if f.StudentID != "" && r.StudentID != f.StudentID {
		return false
	}
	if len(f.ScheduleIDs) > 0 {
		ok := false
		for _, id := range f.ScheduleIDs {
			if id == r.ScheduleID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.From != "" && r.Date < f.From {
		return false
	}
	if f.To != "" && r.Date > f.To {
		return false
	}
	return true
}
