package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3N-VOY/neuropdfv2/internal/model"
	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
	"github.com/3N-VOY/neuropdfv2/internal/repo"
	"github.com/3N-VOY/neuropdfv2/test/testutil"
)

func TestDocumentRepoLifecycleAndIsolation(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	docs := repo.NewDocumentRepo(db)
	ctx := context.Background()
	now := time.Now().Unix()
	doc := &model.Document{
		ID:        "doc-repo-1",
		ApiKey:    "pdfk_doc_owner",
		Namespace: "device_repo_doc1",
		Filename:  "report.pdf",
		SizeBytes: 1024,
		State:     model.DocumentStateIngesting,
		Ctime:     now,
	}
	defer func() { _ = docs.Delete(ctx, doc.ApiKey, doc.ID) }()
	require.NoError(t, docs.Create(ctx, doc))

	// Not visible as ready until marked.
	_, err := docs.LatestReady(ctx, doc.ApiKey)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, docs.MarkReady(ctx, doc.ID, 3, 12))
	ready, err := docs.LatestReady(ctx, doc.ApiKey)
	require.NoError(t, err)
	require.Equal(t, doc.ID, ready.ID)
	require.Equal(t, 3, ready.Pages)
	require.Equal(t, 12, ready.Chunks)
	require.Equal(t, model.DocumentStateReady, ready.State)

	// Marking twice is an error: the first transition already happened.
	require.ErrorIs(t, docs.MarkReady(ctx, doc.ID, 3, 12), appErr.ErrNotFound)

	byNS, err := docs.GetByNamespace(ctx, doc.Namespace)
	require.NoError(t, err)
	require.Equal(t, doc.ID, byNS.ID)

	// Another key cannot see or delete the document.
	_, err = docs.GetByID(ctx, "pdfk_other", doc.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.ErrorIs(t, docs.Delete(ctx, "pdfk_other", doc.ID), appErr.ErrNotFound)

	require.NoError(t, docs.Delete(ctx, doc.ApiKey, doc.ID))
	_, err = docs.GetByID(ctx, doc.ApiKey, doc.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDocumentRepoNamespaceUnique(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	docs := repo.NewDocumentRepo(db)
	ctx := context.Background()
	now := time.Now().Unix()
	first := &model.Document{
		ID:        "doc-ns-1",
		ApiKey:    "pdfk_ns_owner",
		Namespace: "device_ns_shared",
		Filename:  "a.pdf",
		State:     model.DocumentStateReady,
		Ctime:     now,
	}
	defer func() { _ = docs.Delete(ctx, first.ApiKey, first.ID) }()
	require.NoError(t, docs.Create(ctx, first))

	second := &model.Document{
		ID:        "doc-ns-2",
		ApiKey:    "pdfk_ns_owner",
		Namespace: "device_ns_shared",
		Filename:  "b.pdf",
		State:     model.DocumentStateReady,
		Ctime:     now,
	}
	require.ErrorIs(t, docs.Create(ctx, second), appErr.ErrConflict)
}
