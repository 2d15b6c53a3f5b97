package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// ContractData carries the fields rendered into an enrollment contract.
type ContractData struct {
	Institution  string
	StudentName  string
	CourseName   string
	EnrollmentID int64
	Semester     int
	Year         int
	IssuedAt     time.Time
}

// ContractRenderer produces enrollment contract PDFs.
type ContractRenderer struct{}

// NewContractRenderer constructs a contract renderer.
func NewContractRenderer() *ContractRenderer {
	return &ContractRenderer{}
}

// Render creates the contract document for one enrollment period.
func (r *ContractRenderer) Render(data ContractData) ([]byte, error) {
	if data.StudentName == "" || data.CourseName == "" {
		return nil, fmt.Errorf("contract requires student and course names")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, strings.ToUpper(data.Institution), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "ENROLLMENT SERVICE CONTRACT", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 10)
	rows := [][2]string{
		{"Enrollment", fmt.Sprintf("#%d", data.EnrollmentID)},
		{"Student", data.StudentName},
		{"Course", data.CourseName},
		{"Period", fmt.Sprintf("%d/%d", data.Semester, data.Year)},
		{"Issued", data.IssuedAt.Format("2006-01-02")},
	}
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 7, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, row[1], "1", 1, "", false, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 9)
	body := fmt.Sprintf(
		"The student identified above commits to the academic period %d/%d of the course %s. "+
			"Acceptance of this contract is a condition for the enrollment to proceed to activation. "+
			"The institution reserves the enrollment slot until the acceptance deadline of the period.",
		data.Semester, data.Year, data.CourseName)
	pdf.MultiCell(0, 5, body, "", "", false)
	pdf.Ln(16)

	pdf.CellFormat(80, 7, "_______________________________", "", 0, "C", false, 0, "")
	pdf.CellFormat(20, 7, "", "", 0, "", false, 0, "")
	pdf.CellFormat(80, 7, "_______________________________", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(80, 5, "Student", "", 0, "C", false, 0, "")
	pdf.CellFormat(20, 5, "", "", 0, "", false, 0, "")
	pdf.CellFormat(80, 5, "Registrar", "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render contract pdf: %w", err)
	}
	return buf.Bytes(), nil
}
