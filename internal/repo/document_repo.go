package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	"github.com/3N-VOY/neuropdfv2/internal/pkg/dbutil"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

var documentFields = []string{"id", "api_key", "namespace", "filename", "size_bytes", "pages", "chunks", "state", "ctime"}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":         doc.ID,
		"api_key":    doc.ApiKey,
		"namespace":  doc.Namespace,
		"filename":   doc.Filename,
		"size_bytes": doc.SizeBytes,
		"pages":      doc.Pages,
		"chunks":     doc.Chunks,
		"state":      doc.State,
		"ctime":      doc.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

// MarkReady flips an ingesting document to ready and records the final
// page and chunk counts. Readiness is what makes the document queryable.
func (r *DocumentRepo) MarkReady(ctx context.Context, docID string, pages int, chunks int) error {
	where := map[string]interface{}{
		"id":    docID,
		"state": model.DocumentStateIngesting,
	}
	update := map[string]interface{}{
		"state":  model.DocumentStateReady,
		"pages":  pages,
		"chunks": chunks,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, apiKey, docID string) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{
		"id":      docID,
		"api_key": apiKey,
	})
}

func (r *DocumentRepo) GetByNamespace(ctx context.Context, namespace string) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{"namespace": namespace})
}

// LatestReady returns the key's most recently ingested ready document, or
// ErrNotFound when the key has none.
func (r *DocumentRepo) LatestReady(ctx context.Context, apiKey string) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{
		"api_key":  apiKey,
		"state":    model.DocumentStateReady,
		"_orderby": "ctime desc",
		"_limit":   []uint{0, 1},
	})
}

func (r *DocumentRepo) ListByKey(ctx context.Context, apiKey string) ([]*model.Document, error) {
	where := map[string]interface{}{
		"api_key":  apiKey,
		"_orderby": "ctime desc",
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) Delete(ctx context.Context, apiKey, docID string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{
		"id":      docID,
		"api_key": apiKey,
	})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanDocument(rows)
}

func scanDocument(rows *sql.Rows) (*model.Document, error) {
	var doc model.Document
	if err := rows.Scan(&doc.ID, &doc.ApiKey, &doc.Namespace, &doc.Filename,
		&doc.SizeBytes, &doc.Pages, &doc.Chunks, &doc.State, &doc.Ctime); err != nil {
		return nil, err
	}
	return &doc, nil
}
