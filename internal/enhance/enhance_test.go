package enhance

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/tnroll/voterscan/internal/entity"
)

// scriptedEngine returns queued texts in call order.
type scriptedEngine struct {
	mu    sync.Mutex
	texts []string
	calls int
}

func (e *scriptedEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.texts) == 0 {
		return "", nil
	}
	text := e.texts[0]
	e.texts = e.texts[1:]
	return text, nil
}

func identityVariants(n int) []Variant {
	var vs []Variant
	for i := 0; i < n; i++ {
		vs = append(vs, Variant{Name: "identity", Apply: func(img image.Image) image.Image { return img }})
	}
	return vs
}

func testCard() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 8, 8))
}

func TestEnhanceFillsMissingFields(t *testing.T) {
	engine := &scriptedEngine{texts: []string{
		"வயது : 52",               // first variant reads only the age
		"பாலினம் : பெண்",          // second reads the gender
	}}
	m := NewMerger(engine, identityVariants(3), nil)

	rec := entity.NewVoterRecord(7)
	rec.SetField(entity.FieldName, "ராமு", entity.ProvenanceFirstPass)

	filled, err := m.Enhance(context.Background(), testCard(), &rec)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if rec.Age != "52" {
		t.Errorf("Age = %q, want 52", rec.Age)
	}
	if rec.Gender != entity.GenderFemale {
		t.Errorf("Gender = %q, want Female", rec.Gender)
	}
	if rec.Origin[entity.FieldAge] != entity.ProvenanceEnhanced {
		t.Errorf("Origin[age] = %q, want enhanced", rec.Origin[entity.FieldAge])
	}
	if rec.Origin[entity.FieldName] != entity.ProvenanceFirstPass {
		t.Errorf("Origin[name] = %q, first-pass provenance must survive", rec.Origin[entity.FieldName])
	}
	if len(filled) != 2 {
		t.Errorf("filled = %v, want two fields", filled)
	}
}

func TestEnhanceNeverOverwrites(t *testing.T) {
	engine := &scriptedEngine{texts: []string{"பெயர் : வேறு\nவயது : 30"}}
	m := NewMerger(engine, identityVariants(1), nil)

	rec := entity.NewVoterRecord(1)
	rec.SetField(entity.FieldName, "ராமு", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldAge, "45", entity.ProvenanceFirstPass)

	if _, err := m.Enhance(context.Background(), testCard(), &rec); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if rec.Name != "ராமு" {
		t.Errorf("Name = %q, first-pass value was overwritten", rec.Name)
	}
	if rec.Age != "45" {
		t.Errorf("Age = %q, first-pass value was overwritten", rec.Age)
	}
}

func TestEnhanceStopsWhenComplete(t *testing.T) {
	engine := &scriptedEngine{}
	m := NewMerger(engine, identityVariants(5), nil)

	rec := entity.NewVoterRecord(1)
	rec.SetField(entity.FieldSerialNo, "1", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldVoterID, "ABC1234567", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldName, "ராமு", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldRelationName, "கந்தன்", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldHouseNo, "3", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldAge, "45", entity.ProvenanceFirstPass)
	rec.SetField(entity.FieldGender, string(entity.GenderMale), entity.ProvenanceFirstPass)

	if _, err := m.Enhance(context.Background(), testCard(), &rec); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if engine.calls != 0 {
		t.Errorf("engine called %d times for a complete record, want 0", engine.calls)
	}
}

func TestEnhanceRelationTypeRidesAlong(t *testing.T) {
	engine := &scriptedEngine{texts: []string{"கணவர் : ராமன்"}}
	m := NewMerger(engine, identityVariants(1), nil)

	rec := entity.NewVoterRecord(1)
	if _, err := m.Enhance(context.Background(), testCard(), &rec); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if rec.RelationName != "ராமன்" {
		t.Errorf("RelationName = %q", rec.RelationName)
	}
	if rec.RelationType != entity.RelationHusband {
		t.Errorf("RelationType = %q, want Husband", rec.RelationType)
	}
}

func TestEnhanceCancelledContext(t *testing.T) {
	engine := &scriptedEngine{texts: []string{"வயது : 52"}}
	m := NewMerger(engine, identityVariants(3), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := entity.NewVoterRecord(1)
	if _, err := m.Enhance(ctx, testCard(), &rec); err == nil {
		t.Error("Enhance on cancelled context returned nil error")
	}
}

func TestDefaultVariantsOrder(t *testing.T) {
	vs := DefaultVariants(0)
	want := []string{"original", "contrast", "grayscale", "binarize", "upscale"}
	if len(vs) != len(want) {
		t.Fatalf("got %d variants, want %d", len(vs), len(want))
	}
	for i, v := range vs {
		if v.Name != want[i] {
			t.Errorf("variant %d = %q, want %q", i, v.Name, want[i])
		}
	}
}

func TestBinarize(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.Pix[0] = 100
	src.Pix[1] = 200

	out := Binarize(src, 140).(*image.Gray)
	if out.Pix[0] != 0 || out.Pix[1] != 255 {
		t.Errorf("binarized pixels = %v, want [0 255]", out.Pix[:2])
	}
}

func TestUpscaleDoublesBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 6))
	out := Upscale(src, 2)
	if b := out.Bounds(); b.Dx() != 20 || b.Dy() != 12 {
		t.Errorf("upscaled bounds = %v, want 20x12", b)
	}
}
