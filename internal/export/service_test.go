package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/tnroll/voterscan/internal/entity"
)

func testRecords() []entity.VoterRecord {
	complete := entity.NewVoterRecord(1)
	complete.DocName = "roll-part-1"
	complete.PartNo = "1"
	complete.SetField(entity.FieldSerialNo, "1", entity.ProvenanceFirstPass)
	complete.SetField(entity.FieldVoterID, "ABC1234567", entity.ProvenanceFirstPass)
	complete.SetField(entity.FieldName, "முருகன்", entity.ProvenanceFirstPass)
	complete.SetField(entity.FieldRelationName, "கந்தசாமி", entity.ProvenanceFirstPass)
	complete.RelationType = entity.RelationFather
	complete.SetField(entity.FieldHouseNo, "42", entity.ProvenanceFirstPass)
	complete.SetField(entity.FieldAge, "45", entity.ProvenanceFirstPass)
	complete.SetField(entity.FieldGender, string(entity.GenderMale), entity.ProvenanceFirstPass)

	// unreadable serial; the sequence still identifies the row
	sparse := entity.NewVoterRecord(42)
	sparse.DocName = "roll-part-1"
	sparse.PartNo = "1"
	sparse.SetField(entity.FieldName, "ராமு", entity.ProvenanceFirstPass)
	sparse.SetField(entity.FieldAge, "52", entity.ProvenanceEnhanced)

	return []entity.VoterRecord{complete, sparse}
}

func TestWriteXLSX(t *testing.T) {
	data, err := NewService(nil).WriteXLSX(testRecords(), "thanjavur")
	if err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		t.Fatalf("sheet %q not found", sheet)
	}

	for i, want := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		got, _ := f.GetCellValue(sheet, cell)
		if got != want {
			t.Errorf("header %s = %q, want %q", cell, got, want)
		}
	}

	cases := []struct {
		cell, want string
	}{
		{"A2", "1"},            // sequence
		{"C2", "ABC1234567"},   // voter id
		{"D2", "முருகன்"},      // name
		{"E2", "Father"},       // relation type
		{"H2", "45"},           // age
		{"I2", "Male"},         // gender
		{"J2", "thanjavur"},    // batch
		{"K2", "roll-part-1"},  // source file
		{"L2", "1.png"},        // card file
		{"A3", "42"},           // sequence even with unreadable serial
		{"I3", ""},             // unknown gender exports empty
		{"H3", "52"},           // enhanced age still exported
		{"L3", "42.png"},       // S.No and card file always agree
	}
	for _, tc := range cases {
		got, _ := f.GetCellValue(sheet, tc.cell)
		if got != tc.want {
			t.Errorf("%s = %q, want %q", tc.cell, got, tc.want)
		}
	}
}

func TestWriteXLSXFlagsReviewCells(t *testing.T) {
	data, err := NewService(nil).WriteXLSX(testRecords(), "thanjavur")
	if err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	plain, _ := f.GetCellStyle(sheet, "H2")   // first-pass age
	missing, _ := f.GetCellStyle(sheet, "I3") // unknown gender
	enhanced, _ := f.GetCellStyle(sheet, "H3") // enhanced age

	if missing == plain {
		t.Error("missing-value cell has no review styling")
	}
	if enhanced == plain {
		t.Error("enhanced-value cell has no review styling")
	}
}

func TestWriteXLSXEmptyBatch(t *testing.T) {
	data, err := NewService(nil).WriteXLSX(nil, "empty")
	if err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("empty batch produced %d rows, want header only", len(rows))
	}
}
