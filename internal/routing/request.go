package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/s3util"
)

// TranscriptionRequest is the batch transcription job definition.
type TranscriptionRequest struct {
	DisplayName string            `json:"displayName"`
	Description string            `json:"description,omitempty"`
	Locale      string            `json:"locale"`
	ContentURLs []string          `json:"contentUrls"`
	Properties  map[string]string `json:"properties"`
	Model       *ModelIdentity    `json:"model,omitempty"`
}

// ModelIdentity references a custom model.
type ModelIdentity struct {
	Self string `json:"self"`
}

// Settings are the per-deployment request properties.
type Settings struct {
	Locale                 string
	ProfanityFilterMode    string
	PunctuationMode        string
	AddDiarization         bool
	AddWordLevelTimestamps bool
	TimeToLive             string
	Description            string
}

// SettingsFromConfig extracts request settings from the transcription section.
func SettingsFromConfig(t config.Transcription) Settings {
	return Settings{
		Locale:                 t.Locale,
		ProfanityFilterMode:    t.ProfanityFilterMode,
		PunctuationMode:        t.PunctuationMode,
		AddDiarization:         t.AddDiarization,
		AddWordLevelTimestamps: t.AddWordLevelTimestamps,
		TimeToLive:             t.TimeToLive,
	}
}

// Presigner issues temporary read URLs for stored audio.
type Presigner interface {
	PresignGetURL(ctx context.Context, container, name string) (string, error)
}

// RequestBuilder turns an assignment into a provider request.
type RequestBuilder struct {
	settings  Settings
	presigner Presigner
}

// NewRequestBuilder creates a RequestBuilder.
func NewRequestBuilder(settings Settings, presigner Presigner) *RequestBuilder {
	return &RequestBuilder{settings: settings, presigner: presigner}
}

// Build creates the request for an assignment. Each file's content URL is a
// temporary access URL so the provider can read it without credentials.
func (b *RequestBuilder) Build(ctx context.Context, a Assignment) (TranscriptionRequest, error) {
	urls := make([]string, 0, len(a.Notifications))
	for _, n := range a.Notifications {
		ref, err := s3util.ParseObjectURL(n.SourceURL)
		if err != nil {
			return TranscriptionRequest{}, fmt.Errorf("job %s: %w", a.Name, err)
		}
		u, err := b.presigner.PresignGetURL(ctx, ref.Container, ref.Name)
		if err != nil {
			return TranscriptionRequest{}, fmt.Errorf("job %s: %w", a.Name, err)
		}
		urls = append(urls, u)
	}

	desc := b.settings.Description
	if desc == "" {
		desc = "Speech ingestion job " + a.Name
	}
	return TranscriptionRequest{
		DisplayName: a.Name,
		Description: desc,
		Locale:      PrimaryLocale(b.settings.Locale),
		ContentURLs: urls,
		Properties:  b.properties(),
		Model:       ModelFor(a.Endpoint),
	}, nil
}

func (b *RequestBuilder) properties() map[string]string {
	props := map[string]string{
		"ProfanityFilterMode":        b.settings.ProfanityFilterMode,
		"PunctuationMode":            strings.ReplaceAll(b.settings.PunctuationMode, " ", ""),
		"DiarizationEnabled":         boolString(b.settings.AddDiarization),
		"WordLevelTimestampsEnabled": boolString(b.settings.AddWordLevelTimestamps),
	}
	if b.settings.TimeToLive != "" {
		props["timeToLive"] = b.settings.TimeToLive
	}
	return props
}

// PrimaryLocale returns the first entry of a "|"-separated locale list.
func PrimaryLocale(locales string) string {
	first, _, _ := strings.Cut(locales, "|")
	return strings.TrimSpace(first)
}

// ModelFor returns the custom model reference for an endpoint, or nil when
// the endpoint's model id is not a UUID.
func ModelFor(ep Endpoint) *ModelIdentity {
	id, err := uuid.Parse(strings.TrimSpace(ep.ModelID))
	if err != nil {
		return nil
	}
	return &ModelIdentity{
		Self: fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/v3.0/models/%s", ep.Region, id.String()),
	}
}

// boolString renders a flag the way the provider's property bag expects.
func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
