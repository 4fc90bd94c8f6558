package services

import (
	"log"

	"github.com/bobarin/reelsmith/internal/config"
)

// Providers is the set of provider clients built from configuration.
// Optional providers are nil when their key is missing.
type Providers struct {
	Scenes      SceneProvider
	Footage     []FootageProvider
	TTS         TTSService
	Transcriber Transcriber
	Render      *ShotstackService

	pingers map[string]Pinger
}

// NewProviders builds every client whose credentials are configured.
func NewProviders(cfg *config.Config) *Providers {
	p := &Providers{pingers: make(map[string]Pinger)}

	var openaiSvc *OpenAIService
	if cfg.OpenAIKey != "" {
		openaiSvc = NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIModel)
		p.Transcriber = openaiSvc
		p.pingers["openai"] = openaiSvc
	}

	var geminiSvc *GeminiService
	if cfg.GeminiKey != "" {
		geminiSvc = NewGeminiService(cfg.GeminiKey, cfg.GeminiModel)
		p.pingers["gemini"] = geminiSvc
	}

	switch {
	case cfg.SceneProvider == "gemini" && geminiSvc != nil:
		p.Scenes = geminiSvc
	case openaiSvc != nil:
		p.Scenes = openaiSvc
	case geminiSvc != nil:
		p.Scenes = geminiSvc
	}

	if cfg.PexelsKey != "" {
		pexels := NewPexelsService(cfg.PexelsKey)
		p.Footage = append(p.Footage, pexels)
		p.pingers["pexels"] = pexels
	}
	if cfg.PixabayKey != "" {
		pixabay := NewPixabayService(cfg.PixabayKey)
		p.Footage = append(p.Footage, pixabay)
		p.pingers["pixabay"] = pixabay
	}

	// ElevenLabs preferred, Cartesia as fallback
	if cfg.ElevenLabsKey != "" {
		tts := NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
		p.TTS = tts
		p.pingers["elevenlabs"] = tts
	} else if cfg.CartesiaKey != "" {
		tts := NewCartesiaService(cfg.CartesiaKey, cfg.CartesiaURL, cfg.CartesiaVoiceID)
		p.TTS = tts
		p.pingers["cartesia"] = tts
	}

	if cfg.ShotstackKey != "" {
		p.Render = NewShotstackService(cfg.ShotstackKey, cfg.ShotstackEnv)
		p.pingers["shotstack"] = p.Render
	}

	p.logSummary()
	return p
}

// Pingers returns the configured clients keyed by provider name.
func (p *Providers) Pingers() map[string]Pinger {
	out := make(map[string]Pinger, len(p.pingers))
	for name, pinger := range p.pingers {
		out[name] = pinger
	}
	return out
}

func (p *Providers) logSummary() {
	if p.Scenes != nil {
		log.Printf("Scene provider: %s", p.Scenes.Name())
	}
	for _, f := range p.Footage {
		log.Printf("Footage provider: %s", f.Name())
	}
	if p.TTS != nil {
		log.Printf("TTS provider: %s", p.TTS.Name())
	} else {
		log.Println("WARNING: No TTS provider configured, videos will render without narration")
	}
	if p.Transcriber == nil {
		log.Println("Whisper transcription disabled (no OPENAI_API_KEY), captions fall back to sentence overlays when TTS has no timings")
	}
}
