// Package models defines the podping payload schema and related domain models.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PodpingVersion is the payload schema version written into every ping.
const PodpingVersion = "1.0"

// Medium describes the kind of feed a ping refers to.
type Medium string

const (
	MediumPodcast    Medium = "podcast"
	MediumMusic      Medium = "music"
	MediumVideo      Medium = "video"
	MediumFilm       Medium = "film"
	MediumAudiobook  Medium = "audiobook"
	MediumNewsletter Medium = "newsletter"
	MediumBlog       Medium = "blog"
)

// Reason describes why a ping was emitted.
type Reason string

const (
	ReasonUpdate  Reason = "update"
	ReasonLive    Reason = "live"
	ReasonLiveEnd Reason = "liveEnd"
)

// ParseMedium returns the Medium for a config string.
func ParseMedium(s string) (Medium, error) {
	switch Medium(s) {
	case MediumPodcast, MediumMusic, MediumVideo, MediumFilm,
		MediumAudiobook, MediumNewsletter, MediumBlog:
		return Medium(s), nil
	}
	return "", fmt.Errorf("unknown medium: %q", s)
}

// ParseReason returns the Reason for a config string.
func ParseReason(s string) (Reason, error) {
	switch Reason(s) {
	case ReasonUpdate, ReasonLive, ReasonLiveEnd:
		return Reason(s), nil
	}
	return "", fmt.Errorf("unknown reason: %q", s)
}

// Podping is the payload document published inside a custom_json operation.
type Podping struct {
	Version string   `json:"version"`
	Medium  Medium   `json:"medium"`
	Reason  Reason   `json:"reason"`
	IRIs    []string `json:"iris"`
}

// NewPodping builds a payload for a set of IRIs.
func NewPodping(medium Medium, reason Reason, iris []string) Podping {
	return Podping{
		Version: PodpingVersion,
		Medium:  medium,
		Reason:  reason,
		IRIs:    iris,
	}
}

// JSON serializes the payload with no extraneous whitespace.
func (p Podping) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// StartupOperationSuffix is appended to the operation id prefix for the
// startup notices of the boot probe: one constructed to price the
// operation, and the completion notice that is broadcast.
const StartupOperationSuffix = "_startup"

// HiveOperationID derives the custom_json operation id string from the
// configured prefix and the medium/reason pair, e.g. "pp_podcast_update".
type HiveOperationID struct {
	Prefix string
	Medium Medium
	Reason Reason
}

func (h HiveOperationID) String() string {
	return fmt.Sprintf("%s_%s_%s", h.Prefix, h.Medium, h.Reason)
}

// StartupNotice is the payload of the startup custom_json operations.
type StartupNotice struct {
	ServerAccount string `json:"server_account"`
	Message       string `json:"message"`
	UUID          string `json:"uuid"`
	Hive          string `json:"hive"`
	Version       string `json:"v,omitempty"`
	Capacity      string `json:"capacity,omitempty"`
}

// JSON serializes the notice with no extraneous whitespace.
func (n StartupNotice) JSON() ([]byte, error) {
	return json.Marshal(n)
}

// IRIBatch is a deduplicated set of IRIs destined for one on-chain operation.
type IRIBatch struct {
	BatchID uuid.UUID
	IRISet  map[string]struct{}
}

// IRIs returns the batch contents as a slice. Order is unspecified.
func (b IRIBatch) IRIs() []string {
	out := make([]string, 0, len(b.IRISet))
	for iri := range b.IRISet {
		out = append(out, iri)
	}
	return out
}
