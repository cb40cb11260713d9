// Package artifacts renders certificate images and documents.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	ImageWidth  = 1123
	ImageHeight = 794

	ContentTypePNG = "image/png"
	ContentTypePDF = "application/pdf"

	keyPrefix  = "certificates/cert-"
	dateLayout = "January 2, 2006"
)

var errMissingField = errors.New("certificate field required")

// Fields are the values printed on a certificate.
type Fields struct {
	UniqueID    string
	StudentName string
	CourseName  string
	IssueDate   time.Time
	ExpiryDate  *time.Time
}

func (f Fields) validate() error {
	switch {
	case strings.TrimSpace(f.UniqueID) == "":
		return fmt.Errorf("unique id: %w", errMissingField)
	case strings.TrimSpace(f.StudentName) == "":
		return fmt.Errorf("student name: %w", errMissingField)
	case strings.TrimSpace(f.CourseName) == "":
		return fmt.Errorf("course name: %w", errMissingField)
	case f.IssueDate.IsZero():
		return fmt.Errorf("issue date: %w", errMissingField)
	}
	return nil
}

// Rendered holds both artifact encodings.
type Rendered struct {
	PNG []byte
	PDF []byte
}

// Generator renders certificate artifacts.
type Generator interface {
	Generate(ctx context.Context, fields Fields) (Rendered, error)
}

// ImageKey is the artifact store key for the PNG rendering.
func ImageKey(uniqueID string) string {
	return keyPrefix + uniqueID + ".png"
}

// DocumentKey is the artifact store key for the PDF rendering.
func DocumentKey(uniqueID string) string {
	return keyPrefix + uniqueID + ".pdf"
}

// Renderer draws certificates with the Go fonts. Output is deterministic for identical fields.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Generate(ctx context.Context, fields Fields) (Rendered, error) {
	if err := fields.validate(); err != nil {
		return Rendered{}, err
	}
	png, err := r.RenderPNG(ctx, fields)
	if err != nil {
		return Rendered{}, err
	}
	pdf, err := r.RenderPDF(ctx, fields, png)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{PNG: png, PDF: pdf}, nil
}

// RenderPNG draws the certificate image.
func (r *Renderer) RenderPNG(ctx context.Context, fields Fields) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := fields.validate(); err != nil {
		return nil, err
	}

	dc := gg.NewContext(ImageWidth, ImageHeight)
	w, h := float64(ImageWidth), float64(ImageHeight)

	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// corner accents
	dc.SetHexColor("#1f7a4d")
	dc.MoveTo(0, 0)
	dc.LineTo(260, 0)
	dc.LineTo(0, 260)
	dc.ClosePath()
	dc.Fill()
	dc.SetHexColor("#c9a227")
	dc.MoveTo(w, h)
	dc.LineTo(w-200, h)
	dc.LineTo(w, h-200)
	dc.ClosePath()
	dc.Fill()

	dc.SetHexColor("#1f7a4d")
	dc.SetLineWidth(4)
	dc.DrawRectangle(30, 30, w-60, h-60)
	dc.Stroke()

	if err := drawText(dc, gobold.TTF, 52, "#1b1b1b", "CERTIFICATE OF ACHIEVEMENT", w/2, 170); err != nil {
		return nil, err
	}
	if err := drawText(dc, goregular.TTF, 24, "#555555", "THIS IS PRESENTED TO", w/2, 250); err != nil {
		return nil, err
	}
	if err := drawText(dc, goitalic.TTF, 58, "#1f7a4d", fields.StudentName, w/2, 340); err != nil {
		return nil, err
	}

	dc.SetHexColor("#c9a227")
	dc.SetLineWidth(2)
	dc.DrawLine(w/2-300, 375, w/2+300, 375)
	dc.Stroke()

	if err := dc.LoadFontFaceFromBytes(goregular.TTF, 26); err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}
	dc.SetHexColor("#333333")
	dc.DrawStringWrapped("for successfully completing "+fields.CourseName, w/2, 430, 0.5, 0.5, w-260, 1.4, gg.AlignCenter)

	// signature block
	dc.SetHexColor("#1b1b1b")
	dc.SetLineWidth(1.5)
	dc.DrawLine(170, 590, 420, 590)
	dc.DrawLine(w-420, 590, w-170, 590)
	dc.Stroke()
	if err := drawText(dc, gobold.TTF, 20, "#1b1b1b", "CRAZYCODERS", 295, 620); err != nil {
		return nil, err
	}
	if err := drawText(dc, gobold.TTF, 20, "#1b1b1b", "OriginHash", w-295, 620); err != nil {
		return nil, err
	}

	footer := "Issued: " + fields.IssueDate.UTC().Format(dateLayout)
	if fields.ExpiryDate != nil {
		footer += "   Valid until: " + fields.ExpiryDate.UTC().Format(dateLayout)
	}
	if err := drawText(dc, goregular.TTF, 16, "#555555", footer, w/2, 690); err != nil {
		return nil, err
	}
	if err := drawText(dc, goregular.TTF, 14, "#777777", "Certificate ID: "+fields.UniqueID, w/2, 720); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPDF wraps a rendered PNG in an A4 landscape document.
func (r *Renderer) RenderPDF(ctx context.Context, fields Fields, png []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, errors.New("png rendering required")
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	stamp := fields.IssueDate.UTC()
	pdf.SetCreationDate(stamp)
	pdf.SetModificationDate(stamp)
	pdf.SetCatalogSort(true)
	pdf.SetTitle("Certificate "+fields.UniqueID, true)
	pdf.SetSubject(fields.CourseName, true)
	pdf.SetAuthor("OriginHash", true)
	pdf.SetCreator("originhash-backend", true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("certificate", opts, bytes.NewReader(png))
	pageW, pageH := pdf.GetPageSize()
	pdf.ImageOptions("certificate", 0, 0, pageW, pageH, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("encode pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func drawText(dc *gg.Context, ttf []byte, points float64, hex, text string, x, y float64) error {
	if err := dc.LoadFontFaceFromBytes(ttf, points); err != nil {
		return fmt.Errorf("load font: %w", err)
	}
	dc.SetHexColor(hex)
	dc.DrawStringAnchored(text, x, y, 0.5, 0.5)
	return nil
}
