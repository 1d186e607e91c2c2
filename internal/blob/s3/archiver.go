package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/domalend/liquidator/internal/domain"
)

// archiveQueryLimit caps one export batch. Tracking rows are never deleted
// from the primary store, so each run exports at most this many of the
// oldest records; the monthly cadence keeps volumes far below the cap.
const archiveQueryLimit = 10000

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly; the archiver only needs the time-ranged queries
// it actually calls.
// ---------------------------------------------------------------------------

// LoanArchiveStore provides read access to terminal tracking records for
// archival purposes.
type LoanArchiveStore interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TrackingRecord, error)
}

// AuditArchiveStore provides read access to old audit entries for archival
// purposes.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the stores for records
// older than the cutoff, serializing them to JSONL, and uploading the result
// to S3.
//
// The archive is a copy, not a move: tracking records and audit rows stay in
// PostgreSQL as permanent history. The export exists so cold storage holds a
// queryable snapshot independent of the database.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	loans  LoanArchiveStore
	audit  AuditArchiveStore
	log    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader, when set, is used to verify
// each upload before it is reported as archived; log may be nil to skip
// audit rows for the export itself.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, loans LoanArchiveStore, audit AuditArchiveStore, log domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		loans:  loans,
		audit:  audit,
		log:    log,
	}
}

// ArchiveLoanRecords exports terminal tracking records last touched before
// the cutoff to archive/loan_tracking/YYYY-MM.jsonl and returns the count.
func (a *ArchiveImpl) ArchiveLoanRecords(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.loans.ListTerminalBefore(ctx, before, archiveQueryLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive loan records query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive loan records marshal: %w", err)
	}

	path := archivePath("loan_tracking", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive loan records upload: %w", err)
	}
	if err := a.verify(ctx, path); err != nil {
		return 0, fmt.Errorf("s3blob: archive loan records: %w", err)
	}

	count := int64(len(records))
	a.logExport(ctx, path, count, before)
	return count, nil
}

// ArchiveAuditLog exports audit entries created before the cutoff to
// archive/audit_log/YYYY-MM.jsonl and returns the count.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before, archiveQueryLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log marshal: %w", err)
	}

	path := archivePath("audit_log", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log upload: %w", err)
	}
	if err := a.verify(ctx, path); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	count := int64(len(entries))
	a.logExport(ctx, path, count, before)
	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// verify confirms the uploaded object is visible before the export is
// reported as complete.
func (a *ArchiveImpl) verify(ctx context.Context, path string) error {
	if a.reader == nil {
		return nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("verify %s: object not found after upload", path)
	}
	return nil
}

func (a *ArchiveImpl) logExport(ctx context.Context, path string, count int64, before time.Time) {
	if a.log == nil {
		return
	}
	// Best effort: a failed audit row does not undo a completed export.
	_ = a.log.Log(ctx, "scheduler", "archive_export", "", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/loan_tracking/2026-08.jsonl
//	archive/audit_log/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
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
