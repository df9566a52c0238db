package attendance

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const MaxBatchItems = 500

type Outcome string

const (
	OutcomeApplied              Outcome = "applied"
	OutcomeRequiresConfirmation Outcome = "requiresConfirmation"
	OutcomeRejected             Outcome = "rejected"
)

// ItemResult: 入力と同じ並びで1件ずつ返す
type ItemResult struct {
	Index    int     `json:"index"`
	Outcome  Outcome `json:"outcome"`
	Record   *Record `json:"record,omitempty"`
	Changed  bool    `json:"changed"`
	Existing *Record `json:"existing_record,omitempty"`
	Code     Code    `json:"code,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

type BatchResult struct {
	Items                []ItemResult `json:"items"`
	Applied              int          `json:"applied"`
	RequiresConfirmation int          `json:"requires_confirmation"`
	Rejected             int          `json:"rejected"`
}

// SubmitBatch: クラス全員分などをまとめて記録する。
// 1件の失敗は他に影響しない。同じキーの項目は投入順に直列、別キーは並列で処理する。
// ストレージ障害のときだけバッチ全体をエラーで返す
func (s *Service) SubmitBatch(ctx context.Context, items []Entry, actor string) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{}, ErrInvalid("items must not be empty")
	}
	if len(items) > MaxBatchItems {
		return BatchResult{}, ErrInvalid(fmt.Sprintf("at most %d items per batch", MaxBatchItems))
	}

	// キーごとに添字をまとめる（出現順を保持）
	var order []Key
	groups := make(map[Key][]int)
	for i, it := range items {
		k := it.normalize().Key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	results := make([]ItemResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, k := range order {
		idxs := groups[k]
		g.Go(func() error {
			for _, i := range idxs {
				res, err := s.write(gctx, items[i], ViaManual, actor)
				r, fatal := itemResult(i, res, err)
				if fatal != nil {
					return fatal
				}
				results[i] = r
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{Items: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeApplied:
			out.Applied++
		case OutcomeRequiresConfirmation:
			out.RequiresConfirmation++
		case OutcomeRejected:
			out.Rejected++
		}
	}
	return out, nil
}

// itemResult: ドメインエラーは項目の結果に、それ以外は fatal として返す
func itemResult(i int, res WriteResult, err error) (ItemResult, error) {
	if err == nil {
		rec := res.Record
		return ItemResult{Index: i, Outcome: OutcomeApplied, Record: &rec, Changed: res.Changed}, nil
	}
	var de *DomainError
	if !errors.As(err, &de) {
		return ItemResult{}, err
	}
	if de.Code == CodeRequiresConfirmation {
		return ItemResult{
			Index:    i,
			Outcome:  OutcomeRequiresConfirmation,
			Existing: de.Existing,
			Code:     de.Code,
			Reason:   de.Message,
		}, nil
	}
	return ItemResult{Index: i, Outcome: OutcomeRejected, Code: de.Code, Reason: de.Message}, nil
}
