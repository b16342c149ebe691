// Package export writes the batch's aggregate output workbook.
package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tnroll/voterscan/internal/entity"
)

const sheet = "Voter Data"

// headers is the fixed column order of the output workbook.
var headers = []string{
	"S.No", "Part No.", "Voter ID", "Name", "Relation Type", "Relation Name",
	"House No", "Age", "Gender", "Batch", "Source File", "Card File",
}

var columnWidths = []float64{8, 10, 15, 25, 12, 25, 15, 8, 10, 30, 50, 12}

// Service produces XLSX bytes for a finished batch.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// WriteXLSX renders the ordered record sequence into one workbook. Cells that
// are still Unknown, or were filled by the enhancement pass, get a yellow
// fill so reviewers can find them.
func (s *Service) WriteXLSX(records []entity.VoterRecord, batchName string) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, err
	}
	reviewStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFFF00"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i, r := range records {
		row := i + 2
		write := func(col int, v any) string {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
			return cell
		}
		flag := func(cell string) {
			_ = f.SetCellStyle(sheet, cell, cell, reviewStyle)
		}
		mark := func(cell, field, value string) {
			if value == "" || r.Origin[field] == entity.ProvenanceEnhanced {
				flag(cell)
			}
		}

		// column 1 is the global card sequence: row N cross-references card
		// image N.png, so the parsed serial never substitutes for it
		write(1, r.Seq)
		write(2, r.PartNo)
		mark(write(3, r.VoterID), entity.FieldVoterID, r.VoterID)
		mark(write(4, r.Name), entity.FieldName, r.Name)
		write(5, string(r.RelationType))
		mark(write(6, r.RelationName), entity.FieldRelationName, r.RelationName)
		mark(write(7, r.HouseNo), entity.FieldHouseNo, r.HouseNo)
		mark(write(8, r.Age), entity.FieldAge, r.Age)

		genderVal := ""
		if r.Gender != entity.GenderUnknown {
			genderVal = string(r.Gender)
		}
		mark(write(9, genderVal), entity.FieldGender, genderVal)

		write(10, batchName)
		write(11, r.DocName)
		write(12, fmt.Sprintf("%d.png", r.Seq))
	}

	for i, w := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, w)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"batch", batchName,
		"rows", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
