package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/openwager/poolhouse/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly; the archiver only needs the queries it calls.

// MarketArchiveStore is the slice of the market journal the archiver reads.
type MarketArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Market, error)
}

// BetArchiveStore provides the wagers attached to each archived market.
type BetArchiveStore interface {
	ListByMarket(ctx context.Context, eventID int64, opts domain.ListOpts) ([]domain.Bet, error)
}

// ArchiveImpl implements domain.Archiver by querying the journal for cold
// records, serializing them to JSONL, and uploading the result to S3.
//
// Settled markets stay in the journal after archival: the in-memory ledger
// still serves them and bettors may hold unclaimed winnings indefinitely.
// Audit entries ARE pruned once their archive object is uploaded; the
// object store becomes the system of record for old audit history.
type ArchiveImpl struct {
	writer        domain.BlobWriter
	markets       MarketArchiveStore
	bets          BetArchiveStore
	audit         domain.AuditStore
	marketsPrefix string
	auditPrefix   string
}

// NewArchiver creates an ArchiveImpl writing under the two key prefixes.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	bets BetArchiveStore,
	audit domain.AuditStore,
	marketsPrefix, auditPrefix string,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:        writer,
		markets:       markets,
		bets:          bets,
		audit:         audit,
		marketsPrefix: marketsPrefix,
		auditPrefix:   auditPrefix,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// marketRecord is one JSONL line: a settled market with every wager on it.
// Amounts are decimal strings of token base units, same as the event
// payloads and cache snapshots.
type marketRecord struct {
	EventID   int64             `json:"event_id"`
	Status    string            `json:"status"`
	Result    string            `json:"result"`
	TotalPool string            `json:"total_pool"`
	Pools     map[string]string `json:"pools"`
	CreatedAt time.Time         `json:"created_at"`
	SettledAt time.Time         `json:"settled_at"`
	Bets      []betRecord       `json:"bets"`
}

type betRecord struct {
	Bettor    string     `json:"bettor"`
	Outcome   string     `json:"outcome"`
	Amount    string     `json:"amount"`
	PlacedAt  time.Time  `json:"placed_at"`
	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Payout    string     `json:"payout,omitempty"`
}

type auditRecord struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ArchiveSettledMarkets uploads every market settled strictly before the
// cutoff, each with its full bet list, as one JSONL object partitioned by
// the cutoff's year-month. The upload is recorded in the audit log and the
// count of archived markets is returned.
func (a *ArchiveImpl) ArchiveSettledMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListSettledBefore(ctx, before, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	records := make([]marketRecord, 0, len(markets))
	for _, m := range markets {
		bets, err := a.bets.ListByMarket(ctx, m.EventID, domain.ListOpts{})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive markets: bets for %d: %w", m.EventID, err)
		}
		records = append(records, recordMarket(m, bets))
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := archivePath(a.marketsPrefix, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}

	count := int64(len(markets))

	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive markets audit log: %w", err)
	}

	return count, nil
}

// ArchiveAuditLog uploads every audit entry created strictly before the
// cutoff as one JSONL object, then prunes the uploaded rows from the
// journal. The prune only runs after a successful upload; on prune failure
// the rows remain and the next run re-uploads them.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]auditRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, auditRecord{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath(a.auditPrefix, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	pruned, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"pruned": pruned,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

func recordMarket(m domain.Market, bets []domain.Bet) marketRecord {
	pools := make(map[string]string, len(m.Pools))
	for o, p := range m.Pools {
		pools[string(o)] = bigString(p)
	}
	rec := marketRecord{
		EventID:   m.EventID,
		Status:    string(m.Status),
		Result:    string(m.Result),
		TotalPool: bigString(m.TotalPool),
		Pools:     pools,
		CreatedAt: m.CreatedAt,
		SettledAt: m.SettledAt,
		Bets:      make([]betRecord, 0, len(bets)),
	}
	for _, b := range bets {
		br := betRecord{
			Bettor:   b.Bettor.Hex(),
			Outcome:  string(b.Outcome),
			Amount:   bigString(b.Amount),
			PlacedAt: b.PlacedAt,
			Claimed:  b.Claimed,
		}
		if !b.ClaimedAt.IsZero() {
			t := b.ClaimedAt
			br.ClaimedAt = &t
		}
		if b.Payout != nil {
			br.Payout = b.Payout.String()
		}
		rec.Bets = append(rec.Bets, br)
	}
	return rec
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2026-01.jsonl
//	archive/audit/2026-01.jsonl
func archivePath(prefix string, before time.Time) string {
	return fmt.Sprintf("%s/%s.jsonl", strings.TrimSuffix(prefix, "/"), before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
