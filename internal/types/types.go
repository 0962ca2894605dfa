package types

// Segment is a candidate highlight window. Start and End use HH:MM:SS[.mmm].
type Segment struct {
	Title  string   `json:"title"`
	Start  string   `json:"start"`
	End    string   `json:"end"`
	Reason string   `json:"reason"`
	Score  *float64 `json:"score,omitempty"`
}

// VideoInfo is the cached identity of a source video (info.json).
type VideoInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type Manifest struct {
	VideoID    string         `json:"video_id"`
	VideoTitle string         `json:"video_title"`
	Clips      []ManifestClip `json:"clips"`
}

type ManifestClip struct {
	Title string `json:"title"`
	File  string `json:"file"`
}

// BurnRequest describes one burn invocation. Empty Subtitle or Watermark
// disables that overlay; with both empty the input is copied.
type BurnRequest struct {
	Video     string
	Subtitle  string
	Output    string
	Watermark string
	FontSize  int
	MarginV   int
}

// Analysis is the extractor result shape shared by CLI and HTTP output.
type Analysis struct {
	Success     bool      `json:"success"`
	Chapters    []Segment `json:"chapters,omitzero"`
	Error       string    `json:"error,omitempty"`
	RawResponse string    `json:"raw_response,omitempty"`
}

// Chapters is a successful analysis. An empty result still encodes as
// "chapters": [].
func Chapters(segs []Segment) Analysis {
	if segs == nil {
		segs = []Segment{}
	}
	return Analysis{Success: true, Chapters: segs}
}

// StageResult is the normalized outcome of a single stage runner call.
type StageResult struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	ReturnCode int    `json:"returncode"`
}
