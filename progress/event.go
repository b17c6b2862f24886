// Package progress carries the structured events that report pipeline
// progress to a consumer.
package progress

import (
	"encoding/json"
	"time"
)

// Stage names.
const (
	StageDownload       = "download"
	StageConversion     = "conversion"
	StageTweakDetected  = "tweak_detected"
	StagePatch          = "patch"
	StageOperation      = "operation"
	StageGitHubReleases = "github_releases"
	StageGitHub         = "github"
	StageFatal          = "fatal_error"
)

// Status tokens. Stages may use others.
const (
	StatusStarted     = "started"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusExists      = "exists"
	StatusAwaitingIPA = "awaiting_ipa"

	StatusExtractingIPA      = "extracting_ipa"
	StatusExtractingTar      = "extracting_tar"
	StatusCopyingTweakFiles  = "copying_tweak_files"
	StatusInjectingLibraries = "injecting_libraries"
	StatusInjectingDylib     = "injecting_dylib"
	StatusRepackagingIPA     = "repackaging_ipa"
)

// Fields is the stage specific payload of an event.
type Fields map[string]any

// Event is one progress record.
type Event struct {
	Stage  string
	Status string
	Time   time.Time
	Fields Fields
}

// MarshalJSON renders the event as a single flat object. Fields cannot
// override stage, status or timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["stage"] = e.Stage
	m["status"] = e.Status
	m["timestamp"] = e.Time.Format(time.RFC3339Nano)
	return json.Marshal(m)
}

func (e Event) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}
