package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"abasto/internal/core/id"
	"abasto/internal/domain/audit"
	"abasto/pkg/logger"
)

// CompressionAlgo specifies the compression algorithm used for stored
// audit payloads.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// auditCompressThreshold is the payload size above which details are
// zstd-compressed before storage.
const auditCompressThreshold = 10 * 1024

// AuditSink persists audit events to the sys_audit table. Large detail
// payloads are compressed with zstd. Implements audit.Sink: write
// failures are logged, never propagated to the business operation.
type AuditSink struct {
	txm     *TxManager
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ audit.Sink = (*AuditSink)(nil)

// NewAuditSink creates a new durable audit sink.
func NewAuditSink(txm *TxManager) (*AuditSink, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditSink{
		txm:     txm,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Record writes the event. Runs on the caller's transaction when one is
// active, so the audit row commits atomically with the operation.
func (s *AuditSink) Record(ctx context.Context, event audit.Event) {
	if err := s.write(ctx, event); err != nil {
		logger.Error(ctx, "audit write failed",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"action", event.Action,
			"error", err,
		)
	}
}

func (s *AuditSink) write(ctx context.Context, event audit.Event) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
	}

	var compressed []byte
	algo := CompressionNone
	if len(details) > auditCompressThreshold {
		compressed = s.encoder.EncodeAll(details, nil)
		details = nil
		algo = CompressionZstd
	}

	sql := `
		INSERT INTO sys_audit (
			id, entity_type, entity_id, action, actor,
			details, details_compressed, compression_algo, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.txm.GetQuerier(ctx).Exec(ctx, sql,
		event.ID, event.EntityType, event.EntityID, event.Action, event.Actor,
		details, compressed, algo, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// storedEvent mirrors a sys_audit row.
type storedEvent struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          id.ID           `db:"entity_id"`
	Action            audit.Action    `db:"action"`
	Actor             string          `db:"actor"`
	Details           json.RawMessage `db:"details"`
	DetailsCompressed []byte          `db:"details_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	OccurredAt        time.Time       `db:"occurred_at"`
}

// History retrieves the audit trail for an entity, newest first.
func (s *AuditSink) History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]audit.Event, error) {
	sql := `
		SELECT id, entity_type, entity_id, action, actor,
		       details, details_compressed, compression_algo, occurred_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`

	rows, err := s.txm.GetQuerier(ctx).Query(ctx, sql, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e storedEvent
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor,
			&e.Details, &e.DetailsCompressed, &e.CompressionAlgo, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}

		if e.CompressionAlgo == CompressionZstd && len(e.DetailsCompressed) > 0 {
			decompressed, err := s.decoder.DecodeAll(e.DetailsCompressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress details: %w", err)
			}
			e.Details = decompressed
		}

		event := audit.Event{
			ID:         e.ID,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Action:     e.Action,
			Actor:      e.Actor,
			OccurredAt: e.OccurredAt,
		}
		if len(e.Details) > 0 {
			if err := json.Unmarshal(e.Details, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
