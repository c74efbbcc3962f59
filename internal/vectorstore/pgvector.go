package vectorstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// pgvectorStore keeps vectors in the vector_records table created by the
// migrations. Similarity uses the cosine distance operator, so the stored
// vectors do not need to be normalized.
type pgvectorStore struct {
	db *sql.DB
}

func init() {
	Register("pgvector", func(args interface{}, deps Deps) (Store, error) {
		return NewPgvector(deps.DB)
	})
}

func NewPgvector(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pgvector store requires a database handle")
	}
	return &pgvectorStore{db: db}, nil
}

func (s *pgvectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_records (namespace, record_id, document_id, chunk_index, page, filename, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (namespace, record_id) DO UPDATE
		SET document_id = EXCLUDED.document_id,
		    chunk_index = EXCLUDED.chunk_index,
		    page = EXCLUDED.page,
		    filename = EXCLUDED.filename,
		    content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, namespace, rec.ID, rec.DocumentID, rec.ChunkIndex,
			rec.Page, rec.Filename, rec.Text, pgvector.NewVector(rec.Values)); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *pgvectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, document_id, chunk_index, page, filename, content,
		       1 - (embedding <=> $1) AS score
		FROM vector_records
		WHERE namespace = $2
		ORDER BY embedding <=> $1, chunk_index ASC
		LIMIT $3`, pgvector.NewVector(vector), namespace, topK)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()
	var matches []Match
	for rows.Next() {
		m := Match{}
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.ChunkIndex, &m.Page, &m.Filename, &m.Text, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

func (s *pgvectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vector_records WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

func (s *pgvectorStore) Count(ctx context.Context, namespace string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vector_records WHERE namespace = $1`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count namespace: %w", err)
	}
	return count, nil
}

func (s *pgvectorStore) Namespaces(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM vector_records GROUP BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var ns string
		var count int64
		if err := rows.Scan(&ns, &count); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out[ns] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespaces: %w", err)
	}
	return out, nil
}
