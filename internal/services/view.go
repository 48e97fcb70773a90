package services

import (
	"math"

	"github.com/lyallcooper/cvsubmit/internal/types"
)

// View receives every visible side effect of an upload submission.
// Calls for one session are serialized; implementations must not call
// back into the Session.
type View interface {
	// Render shows the current progress bar state
	Render(p types.ProgressView)
	// SetSubmitEnabled toggles the submit control
	SetSubmitEnabled(enabled bool)
	// Alert shows a blocking message to the user
	Alert(msg string)
	// Navigate moves to another page, e.g. the analysis results
	Navigate(url string)
}

// NopView discards all updates
type NopView struct{}

func (NopView) Render(types.ProgressView) {}
func (NopView) SetSubmitEnabled(bool)     {}
func (NopView) Alert(string)              {}
func (NopView) Navigate(string)           {}

// Progress scale composition: the upload owns 0-30%, server processing 30-100%.
const (
	uploadShare     = 30
	processingShare = 70
)

// UploadPercent maps bytes sent onto the upload share of the progress bar
func UploadPercent(sent, total int64) int {
	if total <= 0 {
		return 0
	}
	f := float64(sent) / float64(total)
	return int(math.Round(clamp01(f) * uploadShare))
}

// ProcessingPercent maps a server progress fraction onto the processing share
func ProcessingPercent(progress float64) int {
	return uploadShare + int(math.Round(clamp01(progress)*processingShare))
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
