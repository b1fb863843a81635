package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/audio"
)

// AlignedSpeech is synthesized audio plus per-character start times.
type AlignedSpeech struct {
	Audio               []byte
	Characters          []string
	CharacterStartTimes []float64
}

// AlignedSynthesizer produces speech with character-level alignment.
type AlignedSynthesizer interface {
	SynthesizeWithAlignment(ctx context.Context, text, voiceID string) (*AlignedSpeech, error)
}

// --- ElevenLabs backend (cloud API, MP3 with character timestamps) ---

const elevenlabsBaseURL = "https://api.elevenlabs.io"

type elevenlabsSynthesizer struct {
	apiKey       string
	modelID      string
	outputFormat string
	baseURL      string
	client       *http.Client
}

// NewElevenLabsSynthesizer targets the with-timestamps endpoint. baseURL may
// be empty for the public API.
func NewElevenLabsSynthesizer(apiKey, modelID, baseURL string, client *http.Client) AlignedSynthesizer {
	if baseURL == "" {
		baseURL = elevenlabsBaseURL
	}
	return &elevenlabsSynthesizer{
		apiKey:       apiKey,
		modelID:      modelID,
		outputFormat: "mp3_44100_128",
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
	}
}

type elevenlabsTimestampResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   *struct {
		Characters                 []string  `json:"characters"`
		CharacterStartTimesSeconds []float64 `json:"character_start_times_seconds"`
	} `json:"alignment"`
}

func (e *elevenlabsSynthesizer) SynthesizeWithAlignment(ctx context.Context, text, voiceID string) (*AlignedSpeech, error) {
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=%s",
		e.baseURL, url.PathEscape(voiceID), url.QueryEscape(e.outputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	raw, err := doTTSRequest(e.client, req)
	if err != nil {
		return nil, err
	}

	var payload elevenlabsTimestampResponse
	if err = json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode elevenlabs response: %w", err)
	}
	if payload.Alignment == nil {
		return nil, fmt.Errorf("elevenlabs response has no alignment")
	}
	audioBytes, err := base64.StdEncoding.DecodeString(payload.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode elevenlabs audio: %w", err)
	}
	if len(audioBytes) == 0 {
		return nil, fmt.Errorf("elevenlabs returned empty audio")
	}
	return &AlignedSpeech{
		Audio:               audioBytes,
		Characters:          payload.Alignment.Characters,
		CharacterStartTimes: payload.Alignment.CharacterStartTimesSeconds,
	}, nil
}

// --- Local backend (silent WAV with estimated timings, no network) ---

type localSynthesizer struct {
	secondsPerChar float64
	sampleRate     int
}

// NewLocalSynthesizer renders silence sized to a reading-speed estimate.
// It exists for development and end-to-end tests.
func NewLocalSynthesizer() AlignedSynthesizer {
	return &localSynthesizer{secondsPerChar: 0.06, sampleRate: 8000}
}

func (l *localSynthesizer) SynthesizeWithAlignment(ctx context.Context, text, _ string) (*AlignedSpeech, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := utf8.RuneCountInString(text)
	chars := make([]string, 0, n)
	starts := make([]float64, 0, n)
	for i, r := range []rune(text) {
		chars = append(chars, string(r))
		starts = append(starts, float64(i)*l.secondsPerChar)
	}
	secs := min(float64(n)*l.secondsPerChar, 60)
	return &AlignedSpeech{
		Audio:               audio.Silence(secs, l.sampleRate),
		Characters:          chars,
		CharacterStartTimes: starts,
	}, nil
}

// --- shared HTTP helper ---

func doTTSRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	return io.ReadAll(resp.Body)
}
