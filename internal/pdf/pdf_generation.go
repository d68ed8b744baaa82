package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Renderer рендерит текст отчёта в PDF.
type Renderer interface {
	RenderReport(data ReportData) ([]byte, error)
}

type ReportData struct {
	Title       string
	Body        string
	GeneratedAt time.Time
}

// ReportRenderer раскладывает текст отчёта по страницам A4.
type ReportRenderer struct {
	FontPath string // TTF с кириллицей; пусто: встроенный Helvetica
	fontName string
	compress bool
}

func NewReportRenderer(fontPath string) *ReportRenderer {
	r := &ReportRenderer{FontPath: strings.TrimSpace(fontPath), fontName: "Helvetica", compress: true}
	if r.FontPath != "" {
		r.fontName = "DejaVu"
	}
	return r
}

func (g *ReportRenderer) RenderReport(data ReportData) ([]byte, error) {
	if g.FontPath != "" {
		if _, err := os.Stat(g.FontPath); err != nil {
			return nil, fmt.Errorf("report font: %w", err)
		}
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(data.Title, true)
	pdf.SetAuthor("amoreport", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetCompression(g.compress)
	g.addUTF8Font(pdf)

	// ===== Нумерация страниц
	// Футер регистрируется до первой страницы, иначе он попадёт только на последнюю.
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(g.fontName, "", 9)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	// ===== Заголовок
	pdf.SetFont(g.fontName, "B", 16)
	pdf.CellFormat(0, 10, data.Title, "", 1, "C", false, 0, "")
	if !data.GeneratedAt.IsZero() {
		pdf.SetFont(g.fontName, "", 10)
		pdf.CellFormat(0, 6, "Generated "+data.GeneratedAt.Format("2006-01-02 15:04 MST"), "", 1, "C", false, 0, "")
	}
	g.hr(pdf)

	// ===== Тело
	pdf.SetFont(g.fontName, "", 11)
	for _, line := range strings.Split(strings.TrimRight(data.Body, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			pdf.Ln(3)
			continue
		}
		pdf.MultiCell(0, 6, line, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// ===== helpers =====

func (g *ReportRenderer) addUTF8Font(pdf *gofpdf.Fpdf) {
	if g.FontPath == "" {
		return
	}
	pdf.AddUTF8Font(g.fontName, "", g.FontPath)
	pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
}

func (g *ReportRenderer) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 2)
}
