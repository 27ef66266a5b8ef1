package predict

const (
	InputTypeURL    = "image_url"
	InputTypeBase64 = "image_base64"
)

// Request is the body of POST /predict. Exactly one of ImageURL and ImageBase64 must be set.
type Request struct {
	ImageURL    string   `json:"image_url,omitempty"`
	ImageBase64 string   `json:"image_base64,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
}

// Response is a successful prediction.
type Response struct {
	OK           bool   `json:"ok"`
	RequestID    string `json:"request_id"`
	ModelVersion string `json:"model_version"`
	TookMS       int64  `json:"took_ms"`

	Label     string             `json:"label"`
	Score     float64            `json:"score"`
	Decision  string             `json:"decision"`
	Threshold *float64           `json:"threshold,omitempty"`
	Probs     map[string]float64 `json:"probs"`
	Classes   []string           `json:"classes"`
	ImageSize [2]int             `json:"image_size"`
	InputType string             `json:"input_type"`

	ImageURL         string `json:"image_url,omitempty"`
	ImageBase64      string `json:"image_base64,omitempty"`
	ImageThumbBase64 string `json:"image_thumb_base64"`
}

// ErrorResponse is the body returned for any failed prediction.
type ErrorResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	RequestID string `json:"request_id,omitempty"`
}

// ThresholdMode selects how the request threshold is treated.
type ThresholdMode string

const (
	// ThresholdIgnore drops any threshold and always decides by argmax.
	ThresholdIgnore ThresholdMode = "ignore"
	// ThresholdRequest uses the caller's threshold, falling back to the configured default.
	ThresholdRequest ThresholdMode = "request"
	// ThresholdFixed always uses the configured default.
	ThresholdFixed ThresholdMode = "fixed"
)

func (m ThresholdMode) Valid() bool {
	switch m {
	case ThresholdIgnore, ThresholdRequest, ThresholdFixed:
		return true
	}
	return false
}
