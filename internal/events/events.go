// Package events carries structured pipeline progress. The orchestrator
// sends Events on a channel; the job registry and CLI renderer consume them,
// and the Bus fans them out to live subscribers such as websocket clients.
package events

import (
	"fmt"
	"time"
)

// Stage is one of the five pipeline stages.
type Stage int

const (
	StageNone Stage = iota
	StageSetupDownload
	StageSubtitleDownload
	StageAnalyze
	StageClipLoop
	StageManifest
)

// TotalStages is the number of pipeline stages.
const TotalStages = 5

func (s Stage) String() string {
	switch s {
	case StageSetupDownload:
		return "setup_download"
	case StageSubtitleDownload:
		return "subtitle_download"
	case StageAnalyze:
		return "analyze"
	case StageClipLoop:
		return "clip_loop"
	case StageManifest:
		return "manifest"
	default:
		return "none"
	}
}

// Title is the human label used in step markers.
func (s Stage) Title() string {
	switch s {
	case StageSetupDownload:
		return "Setup & Download Video"
	case StageSubtitleDownload:
		return "Downloading Subtitle"
	case StageAnalyze:
		return "Analyze Content"
	case StageClipLoop:
		return "Processing Clips"
	case StageManifest:
		return "Writing Manifest"
	default:
		return ""
	}
}

// Marker renders the "[ Step N/5 ]" prefix. The clip loop and manifest share
// one marker.
func (s Stage) Marker() string {
	switch s {
	case StageClipLoop, StageManifest:
		return fmt.Sprintf("[ Step %d-%d/%d ]", StageClipLoop, StageManifest, TotalStages)
	case StageNone:
		return ""
	default:
		return fmt.Sprintf("[ Step %d/%d ]", int(s), TotalStages)
	}
}

// Kind describes what happened.
type Kind string

const (
	KindStageStarted   Kind = "stage_started"
	KindStageSkipped   Kind = "stage_skipped"
	KindStageDone      Kind = "stage_done"
	KindSegmentStarted Kind = "segment_started"
	KindSegmentSkipped Kind = "segment_skipped"
	KindSegmentDone    Kind = "segment_done"
	KindSegmentFailed  Kind = "segment_failed"
	KindLog            Kind = "log"
	KindRunDone        Kind = "run_done"
	KindRunFailed      Kind = "run_failed"
)

// Event is a single progress update.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	JobID     string         `json:"job_id,omitempty"`
	Stage     Stage          `json:"stage"`
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	return e.Kind == KindRunDone || e.Kind == KindRunFailed
}

// Emitter sends events to an optional channel. The zero value drops
// everything.
type Emitter struct {
	ch chan<- Event
}

func NewEmitter(ch chan<- Event) Emitter { return Emitter{ch: ch} }

func (e Emitter) Emit(stage Stage, kind Kind, msg string, data map[string]any) {
	if e.ch == nil {
		return
	}
	e.ch <- Event{Timestamp: time.Now().UTC(), Stage: stage, Kind: kind, Message: msg, Data: data}
}

// Line renders e as a plain log line. Stage starts carry the step marker.
func (e Event) Line() string {
	if e.Kind == KindStageStarted && e.Stage != StageNone {
		return e.Stage.Marker() + " " + e.Message
	}
	return e.Message
}
