package entity

// Gender is the closed set of gender values printed on a voter card.
type Gender string

const (
	GenderMale    Gender = "Male"
	GenderFemale  Gender = "Female"
	GenderThird   Gender = "Third"
	GenderUnknown Gender = "Unknown"
)

// ParseGender normalizes a free-form value into the closed set.
// Out-of-set values become GenderUnknown, never an error.
func ParseGender(s string) Gender {
	switch s {
	case string(GenderMale), string(GenderFemale), string(GenderThird):
		return Gender(s)
	default:
		return GenderUnknown
	}
}

// RelationType identifies whose name appears on the relation line of a card.
type RelationType string

const (
	RelationFather  RelationType = "Father"
	RelationHusband RelationType = "Husband"
	RelationMother  RelationType = "Mother"
	RelationOther   RelationType = "Other"
	RelationNone    RelationType = "None"
)

// ParseRelationType normalizes a free-form value into the closed set.
func ParseRelationType(s string) RelationType {
	switch s {
	case string(RelationFather), string(RelationHusband), string(RelationMother), string(RelationOther):
		return RelationType(s)
	default:
		return RelationNone
	}
}

// Provenance marks which pass produced a field value.
type Provenance string

const (
	ProvenanceFirstPass Provenance = "first_pass"
	ProvenanceEnhanced  Provenance = "enhanced"
)

// Field names used as keys in VoterRecord.Origin and in missing-field reports.
const (
	FieldSerialNo     = "serial_no"
	FieldVoterID      = "voter_id"
	FieldName         = "name"
	FieldRelationName = "relation_name"
	FieldHouseNo      = "house_no"
	FieldAge          = "age"
	FieldGender       = "gender"
)

// VoterRecord is one extracted voter entry. Seq is the global card sequence
// number within the batch; every other field may legitimately be empty/Unknown
// when OCR could not read it.
type VoterRecord struct {
	Seq          int                   `json:"seq"`
	DocName      string                `json:"doc_name"`
	PartNo       string                `json:"part_no"`
	SerialNo     string                `json:"serial_no"`
	VoterID      string                `json:"voter_id"`
	Name         string                `json:"name"`
	RelationType RelationType          `json:"relation_type"`
	RelationName string                `json:"relation_name"`
	HouseNo      string                `json:"house_no"`
	Age          string                `json:"age"`
	Gender       Gender                `json:"gender"`
	Origin       map[string]Provenance `json:"origin,omitempty"`
}

// NewVoterRecord returns a record with every field Unknown/empty.
func NewVoterRecord(seq int) VoterRecord {
	return VoterRecord{
		Seq:          seq,
		RelationType: RelationNone,
		Gender:       GenderUnknown,
		Origin:       make(map[string]Provenance),
	}
}

// FieldSet returns the parse-relevant field values keyed by field name.
func (r *VoterRecord) FieldSet() map[string]string {
	return map[string]string{
		FieldSerialNo:     r.SerialNo,
		FieldVoterID:      r.VoterID,
		FieldName:         r.Name,
		FieldRelationName: r.RelationName,
		FieldHouseNo:      r.HouseNo,
		FieldAge:          r.Age,
		FieldGender:       genderValue(r.Gender),
	}
}

// MissingFields returns the names of fields still Unknown/empty.
func (r *VoterRecord) MissingFields() []string {
	var missing []string
	for _, f := range []string{FieldSerialNo, FieldVoterID, FieldName, FieldRelationName, FieldHouseNo, FieldAge, FieldGender} {
		if r.FieldSet()[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// MissingAgeOrGender reports whether the two fields the downstream use case
// needs most are still unreadable.
func (r *VoterRecord) MissingAgeOrGender() bool {
	return r.Age == "" || r.Gender == GenderUnknown
}

// SetField writes a field value with the given provenance. Unrecognized field
// names are ignored.
func (r *VoterRecord) SetField(name, value string, p Provenance) {
	switch name {
	case FieldSerialNo:
		r.SerialNo = value
	case FieldVoterID:
		r.VoterID = value
	case FieldName:
		r.Name = value
	case FieldRelationName:
		r.RelationName = value
	case FieldHouseNo:
		r.HouseNo = value
	case FieldAge:
		r.Age = value
	case FieldGender:
		r.Gender = ParseGender(value)
	default:
		return
	}
	if r.Origin == nil {
		r.Origin = make(map[string]Provenance)
	}
	r.Origin[name] = p
}

// genderValue maps GenderUnknown to "" so Unknown counts as missing.
func genderValue(g Gender) string {
	if g == GenderUnknown || g == "" {
		return ""
	}
	return string(g)
}
