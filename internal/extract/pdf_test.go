package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
)

func TestIsPDF(t *testing.T) {
	require.True(t, IsPDF([]byte("%PDF-1.7\n...")))
	require.False(t, IsPDF([]byte("PK\x03\x04")))
	require.False(t, IsPDF([]byte("%PD")))
	require.False(t, IsPDF(nil))
}

func TestExtractRejectsNonPDF(t *testing.T) {
	e := NewPDFExtractor(50)
	_, err := e.Extract(context.Background(), []byte("hello, not a pdf"))
	require.ErrorIs(t, err, appErr.ErrUnsupportedFormat)
}

func TestExtractRejectsEmptyInput(t *testing.T) {
	e := NewPDFExtractor(50)
	_, err := e.Extract(context.Background(), nil)
	require.ErrorIs(t, err, appErr.ErrUnsupportedFormat)
}

func TestExtractRejectsCorruptPDF(t *testing.T) {
	e := NewPDFExtractor(50)
	_, err := e.Extract(context.Background(), []byte("%PDF-1.4 garbage without xref"))
	require.ErrorIs(t, err, appErr.ErrExtractionFailed)
}

func TestNormalizeText(t *testing.T) {
	in := "a  b\tc\n\n\n\nd e  "
	require.Equal(t, "a b c\n\nd e", normalizeText(in))
}
