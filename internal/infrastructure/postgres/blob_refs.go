package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/blob"
	"github.com/THUSAAC-PSD/broccoli-sub000/internal/pkg/logger"
)

// BlobRefStore ties on-disk blobs to their database records: one
// blob_object row per distinct content hash, one blob_ref row per
// (owner_type, owner_id, path).
type BlobRefStore struct {
	db    DB
	blobs *blob.Store
	log   zerolog.Logger
}

func NewBlobRefStore(db DB, blobs *blob.Store) *BlobRefStore {
	return &BlobRefStore{db: db, blobs: blobs, log: logger.Component("blob-ref-store")}
}

// AttachFile writes data to the blob store and records both rows. The
// object insert dedups on hash; the ref upsert replaces whatever file was
// at (ownerType, ownerID, path) before, leaving the old blob in place.
func (s *BlobRefStore) AttachFile(ctx context.Context, ownerType string, ownerID int32, path, filename string, contentType *string, data []byte) (*blob.Ref, error) {
	hash, err := s.blobs.Put(data)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin blob ref tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Object row, one per distinct hash.
	_, err = tx.Exec(ctx, `
		INSERT INTO blob_object (content_hash, size, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (content_hash) DO NOTHING
	`, hash.Hex(), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("insert blob object: %w", err)
	}

	// 2) Ref row. On path conflict the existing row keeps its id.
	ref := blob.Ref{
		OwnerType:   ownerType,
		OwnerID:     ownerID,
		Path:        path,
		ContentHash: hash.Hex(),
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO blob_ref (id, owner_type, owner_id, path, content_hash,
		       filename, content_type, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (owner_type, owner_id, path) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
		    filename = EXCLUDED.filename,
		    content_type = EXCLUDED.content_type,
		    size = EXCLUDED.size,
		    created_at = NOW()
		RETURNING id, created_at
	`, uuid.New(), ownerType, ownerID, path, hash.Hex(),
		filename, contentType, int64(len(data))).
		Scan(&ref.ID, &ref.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert blob ref: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit blob ref tx: %w", err)
	}

	s.log.Debug().
		Str("owner_type", ownerType).
		Int32("owner_id", ownerID).
		Str("path", path).
		Str("content_hash", ref.ContentHash).
		Int64("size", ref.Size).
		Msg("blob attached")
	return &ref, nil
}

// ListByOwner returns an owner's refs ordered by path.
func (s *BlobRefStore) ListByOwner(ctx context.Context, ownerType string, ownerID int32) ([]blob.Ref, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_type, owner_id, path, content_hash,
		       filename, content_type, size, created_at
		FROM blob_ref
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY path ASC
	`, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list blob refs: %w", err)
	}
	defer rows.Close()

	var out []blob.Ref
	for rows.Next() {
		var ref blob.Ref
		err := rows.Scan(&ref.ID, &ref.OwnerType, &ref.OwnerID, &ref.Path,
			&ref.ContentHash, &ref.Filename, &ref.ContentType, &ref.Size, &ref.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan blob ref: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blob refs: %w", err)
	}
	return out, nil
}
