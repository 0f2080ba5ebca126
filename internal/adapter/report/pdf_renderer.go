package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/adapter/metrics"
	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
)

// Page geometry in millimetres (A4 portrait).
const (
	pageMargin   = 20.0
	contentWidth = 170.0
)

// PDFRenderer renders anomaly groups as single-page PDF documents.
type PDFRenderer struct {
	resolver ports.SnippetResolver
	now      func() time.Time
	compress bool
	log      *zap.Logger
}

type Option func(*PDFRenderer)

// WithClock overrides the timestamp source of the footer.
func WithClock(now func() time.Time) Option {
	return func(r *PDFRenderer) { r.now = now }
}

// WithCompression toggles stream compression. Uncompressed output keeps page text searchable.
func WithCompression(compress bool) Option {
	return func(r *PDFRenderer) { r.compress = compress }
}

func NewPDFRenderer(resolver ports.SnippetResolver, logger *zap.Logger, opts ...Option) *PDFRenderer {
	r := &PDFRenderer{
		resolver: resolver,
		now:      time.Now,
		compress: true,
		log:      logger.Named("report"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render builds the document for group and encodes it as PDF.
func (r *PDFRenderer) Render(group domain.AnomalyGroup) (*domain.ReportArtifact, error) {
	timer := metrics.StartTimer()
	defer timer.ObserveDuration()

	generatedAt := r.now().UTC()
	doc := BuildDocument(group, r.resolver, generatedAt)

	content, err := r.encode(doc, generatedAt)
	if err != nil {
		metrics.RecordReport("render_error")
		return nil, fmt.Errorf("failed to render report %s: %w", doc.FileName, err)
	}

	metrics.RecordReport("success")
	r.log.Debug("Report rendered",
		zap.String("file", doc.FileName),
		zap.String("type", string(group.Type)),
		zap.Int("bytes", len(content)))

	return &domain.ReportArtifact{
		Name:        doc.FileName,
		ContentType: domain.ReportContentType,
		Content:     content,
		GeneratedAt: generatedAt,
	}, nil
}

func (r *PDFRenderer) encode(doc Document, generatedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetCreationDate(generatedAt)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("sitescan", false)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin+5)

	// Core fonts are cp1252; translate UTF-8 input.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, tr(doc.Footer), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	// Title
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(contentWidth, 12, tr(doc.Title), "", 1, "C", false, 0, "")

	// Separator
	y := pdf.GetY() + 2
	pdf.SetDrawColor(180, 180, 180)
	pdf.SetLineWidth(0.4)
	pdf.Line(pageMargin, y, pageMargin+contentWidth, y)
	pdf.SetY(y + 6)

	// Details
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range doc.Details() {
		pdf.MultiCell(contentWidth, 6, tr(line), "", "L", false)
	}
	pdf.Ln(4)

	// Recommendation
	heading(pdf, tr(RecommendationHeading))
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(contentWidth, 6, tr(doc.Recommendation), "", "L", false)

	if doc.QuickFix != nil {
		pdf.Ln(4)
		heading(pdf, tr(QuickFixHeading))
		pdf.SetFont("Courier", "", 10)
		pdf.SetFillColor(245, 245, 245)
		pdf.MultiCell(contentWidth, 5, tr(*doc.QuickFix), "1", "L", true)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func heading(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(contentWidth, 8, text, "", 1, "L", false, 0, "")
}
