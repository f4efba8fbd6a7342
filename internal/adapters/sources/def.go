package sources

import (
	"time"

	"extractrelay/internal/core/delimited"
	"extractrelay/internal/core/detect"
)

// File is the on-disk shape of the source definitions file
type File struct {
	Sources []Definition `yaml:"sources" validate:"required,min=1,dive"`
}

// Definition configures one source: how its files are named, split, annotated and delivered
type Definition struct {
	Name         string        `yaml:"name" validate:"required,max=64,excludesall=/\\"`
	Kind         string        `yaml:"kind" validate:"required"`
	PollInterval time.Duration `yaml:"poll_interval"`
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
	Transport    Transport     `yaml:"transport"`

	FilePattern        string   `yaml:"file_pattern" validate:"required,regexp"`
	SkipPattern        string   `yaml:"skip_pattern" validate:"omitempty,regexp"`
	BatchLayout        string   `yaml:"batch_layout" validate:"required"`
	RequiredTypes      []string `yaml:"required_types" validate:"required,min=1,dive,required"`
	OptionalTypes      []string `yaml:"optional_types"`
	AllowPartial       bool     `yaml:"allow_partial"`
	IgnoreUnrecognised bool     `yaml:"ignore_unrecognised"`

	Delimiter  string `yaml:"delimiter" validate:"omitempty,len=1"`
	Header     *bool  `yaml:"header"`
	LazyQuotes bool   `yaml:"lazy_quotes"`
	Encoding   string `yaml:"encoding" validate:"omitempty,oneof=utf-8 windows-1252 cp1252 latin1 iso-8859-1 utf-16le"`

	Split       SplitDef            `yaml:"split"`
	Bulk        BulkDef             `yaml:"bulk"`
	Cutoff      []detect.CutoffSpec `yaml:"cutoff" validate:"dive"`
	PatientType string              `yaml:"patient_type"`
	Reconcile   ReconcileDef        `yaml:"reconcile"`
	Delivery    DeliveryDef         `yaml:"delivery"`
}

// Transport selects where remote files are listed from
type Transport struct {
	Type   string `yaml:"type" validate:"required,oneof=local gcs"`
	Path   string `yaml:"path" validate:"required_if=Type local"`
	Bucket string `yaml:"bucket" validate:"required_if=Type gcs"`
	Prefix string `yaml:"prefix"`
}

// SplitDef chooses and tunes the splitting strategy
type SplitDef struct {
	Strategy               string   `yaml:"strategy" validate:"required,oneof=content metadata"`
	Columns                []string `yaml:"columns" validate:"required_if=Strategy content"`
	Files                  []string `yaml:"files"`
	MaxOpen                int      `yaml:"max_open" validate:"gte=0"`
	DropAdjacentDuplicates bool     `yaml:"drop_adjacent_duplicates"`
	UnknownOrg             string   `yaml:"unknown_org" validate:"omitempty,oneof=drop fail"`
	KnownOrgs              []string `yaml:"known_orgs"`
	FixedOrg               string   `yaml:"fixed_org"`
}

// BulkDef mirrors detect.BulkRules in configuration
type BulkDef struct {
	ManifestType   string   `yaml:"manifest_type"`
	ManifestColumn string   `yaml:"manifest_column" validate:"required_with=ManifestType"`
	ReferenceType  string   `yaml:"reference_type"`
	ActionColumn   string   `yaml:"action_column"`
	AddValues      []string `yaml:"add_values"`
	DeletedColumn  string   `yaml:"deleted_column"`
	MinRows        int      `yaml:"min_rows" validate:"gte=0"`
}

// Rules converts the definition to classifier rules
func (b BulkDef) Rules() detect.BulkRules {
	return detect.BulkRules{
		ManifestType:   b.ManifestType,
		ManifestColumn: b.ManifestColumn,
		ReferenceType:  b.ReferenceType,
		ActionColumn:   b.ActionColumn,
		AddValues:      b.AddValues,
		DeletedColumn:  b.DeletedColumn,
		MinRows:        b.MinRows,
	}
}

// ReconcileDef configures content-hash filtering and gap reconciliation
type ReconcileDef struct {
	Enabled bool         `yaml:"enabled"`
	Filter  bool         `yaml:"filter"`
	Degrade bool         `yaml:"degrade"`
	Types   []FilterType `yaml:"types" validate:"dive"`
	Gap     GapDef       `yaml:"gap"`
}

// FilterType names a file type and its unique row identifier column
type FilterType struct {
	Type     string `yaml:"type" validate:"required"`
	IDColumn string `yaml:"id_column" validate:"required"`
}

// GapDef configures delete synthesis across a disable/re-load gap
type GapDef struct {
	AgreementType        string    `yaml:"agreement_type"`
	DisabledColumn       string    `yaml:"disabled_column" validate:"required_with=AgreementType"`
	DisabledValues       []string  `yaml:"disabled_values"`
	PatientType          string    `yaml:"patient_type"`
	PatientIDColumn      string    `yaml:"patient_id_column"`
	PatientDeletedColumn string    `yaml:"patient_deleted_column"`
	PatientEndColumn     string    `yaml:"patient_end_column"`
	Types                []GapType `yaml:"types" validate:"dive"`
}

// GapType describes one patient-scoped record type for delete synthesis
type GapType struct {
	Type          string   `yaml:"type" validate:"required"`
	IDColumn      string   `yaml:"id_column" validate:"required"`
	PatientColumn string   `yaml:"patient_column"`
	DeletedColumn string   `yaml:"deleted_column" validate:"required"`
	KeepColumns   []string `yaml:"keep_columns"`
}

// DeliveryDef configures the downstream consumer
type DeliveryDef struct {
	Endpoint          string        `yaml:"endpoint" validate:"omitempty,url"`
	AgreementEndpoint string        `yaml:"agreement_endpoint" validate:"omitempty,url"`
	AgreementField    string        `yaml:"agreement_field"`
	TokenEnv          string        `yaml:"token_env"`
	Software          string        `yaml:"software"`
	SoftwareVersion   string        `yaml:"software_version"`
	Workers           int           `yaml:"workers" validate:"gte=0,lte=64"`
	Timeout           time.Duration `yaml:"timeout"`
	DateLayout        string        `yaml:"date_layout"`
}

// Format returns the delimited layout of the source's files
func (d Definition) Format() delimited.Format {
	f := delimited.Default
	if d.Delimiter != "" {
		f.Delimiter = []rune(d.Delimiter)[0]
	}
	if d.Header != nil {
		f.Header = *d.Header
	}
	f.LazyQuotes = d.LazyQuotes
	f.Encoding = d.Encoding
	return f
}

// withDefaults fills unset knobs
func (d Definition) withDefaults() Definition {
	if d.PollInterval <= 0 {
		d.PollInterval = 5 * time.Minute
	}
	if d.Split.UnknownOrg == "" {
		d.Split.UnknownOrg = "drop"
	}
	if d.Delivery.AgreementField == "" {
		d.Delivery.AgreementField = "hasAgreement"
	}
	if d.Delivery.Workers <= 0 {
		d.Delivery.Workers = 4
	}
	if d.Delivery.Software == "" {
		d.Delivery.Software = d.Name
	}
	if d.Delivery.DateLayout == "" {
		d.Delivery.DateLayout = time.RFC3339
	}
	if d.Reconcile.Gap.PatientType == "" {
		d.Reconcile.Gap.PatientType = d.PatientType
	}
	if len(d.Reconcile.Gap.DisabledValues) == 0 {
		d.Reconcile.Gap.DisabledValues = []string{"true", "1"}
	}
	return d
}
