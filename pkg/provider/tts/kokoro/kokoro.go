// Package kokoro provides a local Kokoro-backed TTS provider that connects to
// a Kokoro FastAPI server via its OpenAI-compatible REST API. It implements
// the tts.Provider interface.
//
// Synthesis is performed via POST /v1/audio/speech with a JSON body; the
// voice catalogue is retrieved from GET /v1/audio/voices. The server operates
// in batch mode (one HTTP call per utterance), which matches the pipeline's
// sentence-at-a-time synthesis model.
//
// Typical usage:
//
//	p, err := kokoro.New("http://localhost:8880",
//	    kokoro.WithSpeed(1.2),
//	    kokoro.WithTimeout(15*time.Second),
//	)
//	segment, err := p.Synthesize(ctx, "Hello there.", "af_heart")
package kokoro

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rg1989/local-ai-voice-chat/pkg/audio"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second
	defaultModel   = "kokoro"
	defaultVoice   = "af_heart"

	speechEndpoint = "/v1/audio/speech"
	voicesEndpoint = "/v1/audio/voices"
)

// voiceDescriptions labels the stock Kokoro voices for voice pickers. Voices
// reported by the server but missing here fall back to their ID.
var voiceDescriptions = map[string]string{
	// American English
	"af_heart":   "American Female - Heart (warm, friendly)",
	"af_bella":   "American Female - Bella",
	"af_sarah":   "American Female - Sarah",
	"af_nicole":  "American Female - Nicole",
	"af_sky":     "American Female - Sky",
	"am_adam":    "American Male - Adam",
	"am_michael": "American Male - Michael",
	// British English
	"bf_emma":     "British Female - Emma",
	"bf_isabella": "British Female - Isabella",
	"bm_george":   "British Male - George",
	"bm_lewis":    "British Male - Lewis",
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier sent to the server. Defaults to
// "kokoro".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSpeed sets the speech speed multiplier. Values are clamped to the
// range [0.5, 2.0]. Defaults to 1.0.
func WithSpeed(speed float64) Option {
	return func(p *Provider) {
		p.speed = min(2.0, max(0.5, speed))
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the default HTTP client entirely.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Provider implements tts.Provider backed by a locally-running Kokoro FastAPI
// server. It is safe for concurrent use; multiple Synthesize calls may run in
// parallel.
type Provider struct {
	serverURL  string
	model      string
	speed      float64
	httpClient *http.Client
}

// New creates a new Provider that targets the Kokoro server at serverURL
// (e.g., "http://localhost:8880"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("kokoro: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		model:     defaultModel,
		speed:     1.0,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body sent to POST /v1/audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// voicesResponse is the JSON body returned by GET /v1/audio/voices.
type voicesResponse struct {
	Voices []string `json:"voices"`
}

// Synthesize performs a single POST /v1/audio/speech call and returns the
// decoded audio. Whitespace-only text returns an empty Segment without
// contacting the server.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string) (*tts.Segment, error) {
	if strings.TrimSpace(text) == "" {
		return &tts.Segment{Text: text}, nil
	}
	if voice == "" {
		voice = defaultVoice
	}

	body := speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "wav",
		Speed:          p.speed,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("kokoro: marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+speechEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("kokoro: create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: POST %s: %w", speechEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kokoro: POST %s returned status %d", speechEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kokoro: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}

	samples := audio.PCM16ToFloat32(wav[info.DataOffset:])
	if info.Channels > 1 {
		samples = downmix(samples, info.Channels)
	}

	return &tts.Segment{
		Samples:    samples,
		SampleRate: info.SampleRate,
		Text:       text,
		Duration:   audio.SamplesToDuration(len(samples), info.SampleRate),
	}, nil
}

// Voices retrieves the voice catalogue from GET /v1/audio/voices. Stock
// voices receive human-readable descriptions; unknown voices use their ID.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("kokoro: create voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kokoro: GET %s returned status %d", voicesEndpoint, resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("kokoro: decode voices response: %w", err)
	}

	names := make([]string, len(vr.Voices))
	copy(names, vr.Voices)
	sort.Strings(names)

	voices := make([]tts.Voice, 0, len(names))
	for _, name := range names {
		desc := voiceDescriptions[name]
		if desc == "" {
			desc = name
		}
		voices = append(voices, tts.Voice{ID: name, Description: desc})
	}
	return voices, nil
}

// ---- helpers ----

// downmix averages interleaved multi-channel samples into mono.
func downmix(samples []float32, channels int) []float32 {
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second (e.g., 22050, 24000, 48000)
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. This is more robust than
// hardcoding a fixed 44-byte offset because the fmt chunk size may vary.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("kokoro: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("kokoro: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("kokoro: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				info.SampleRate = 24000
				info.Channels = 1
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("kokoro: WAV response missing data chunk")
}
