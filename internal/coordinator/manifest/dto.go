package manifest

// Entry is one conversion request as written in a manifest file.
type Entry struct {
	FileName          string `json:"df_filename" yaml:"df_filename"`
	CellIndexStart    *int64 `json:"cas_cell_index" yaml:"cas_cell_index"`
	FeatureIndexStart *int64 `json:"cas_feature_index" yaml:"cas_feature_index"`
	InputBucket       string `json:"gcs_input_bucket,omitempty" yaml:"gcs_input_bucket,omitempty"`
	StageDir          string `json:"gcs_stage_dir,omitempty" yaml:"gcs_stage_dir,omitempty"`
	NumCells          int64  `json:"num_cells,omitempty" yaml:"num_cells,omitempty"`
	NumFeatures       int64  `json:"num_features,omitempty" yaml:"num_features,omitempty"`
}

// Document is the object form of a JSON or YAML manifest. A bare list of
// entries is accepted as well.
type Document struct {
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	Requests []Entry `json:"requests" yaml:"requests"`
}

// Column names of tabular manifests.
const (
	ColumnFileName          = "df_filename"
	ColumnCellIndexStart    = "cas_cell_index"
	ColumnFeatureIndexStart = "cas_feature_index"
	ColumnInputBucket       = "gcs_input_bucket"
	ColumnStageDir          = "gcs_stage_dir"
	ColumnNumCells          = "num_cells"
	ColumnNumFeatures       = "num_features"
)
