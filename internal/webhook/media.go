package webhook

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexflow/lexflow/internal/channel"
	"github.com/lexflow/lexflow/internal/provider"
)

const (
	markerAudio    = "[áudio transcrito] "
	markerImage    = "[imagem] "
	markerDocument = "[documento] "
	// mediaFallback stands in when media cannot be resolved so the
	// conversation never loses the turn.
	mediaFallback = "mídia recebida, não foi possível processar"
)

const describePrompt = "Descreva objetivamente o conteúdo desta imagem em até duas frases, em português."

// Resolver converts media messages to text the model can read.
// Audio is downloaded and transcribed; images and documents keep their
// caption or filename behind a kind marker, or get a short description
// from the vision model when no text came with them.
type Resolver struct {
	fetcher     channel.MediaFetcher
	transcriber provider.Transcriber
	chat        provider.ChatCompletionProvider
	logger      *slog.Logger
}

// NewResolver builds a media resolver. Collaborators may be nil, in
// which case the affected media kind degrades to the fallback text.
func NewResolver(fetcher channel.MediaFetcher, transcriber provider.Transcriber, chat provider.ChatCompletionProvider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetcher: fetcher, transcriber: transcriber, chat: chat, logger: logger}
}

// Resolve returns the text the engine should treat as the client's
// message. Plain text passes through untouched.
func (r *Resolver) Resolve(ctx context.Context, ev Event) string {
	switch ev.MediaType {
	case "":
		return ev.Text
	case "imageMessage":
		if caption := strings.TrimSpace(ev.Text); caption != "" {
			return markerImage + caption
		}
		desc, err := r.describeMedia(ctx, ev.MessageID)
		if err != nil {
			r.logger.Warn("Image description failed", "message_id", ev.MessageID, "error", err)
			return mediaFallback
		}
		return markerImage + desc
	case "documentMessage":
		if name := strings.TrimSpace(ev.Text); name != "" {
			return markerDocument + name
		}
		desc, err := r.describeMedia(ctx, ev.MessageID)
		if err != nil {
			r.logger.Warn("Document description failed", "message_id", ev.MessageID, "error", err)
			return mediaFallback
		}
		return markerDocument + desc
	case "audioMessage":
		text, err := r.transcribeAudio(ctx, ev.MessageID)
		if err != nil {
			r.logger.Warn("Audio transcription failed", "message_id", ev.MessageID, "error", err)
			return mediaFallback
		}
		return markerAudio + text
	}
	return mediaFallback
}

func (r *Resolver) transcribeAudio(ctx context.Context, messageID string) (string, error) {
	if r.fetcher == nil || r.transcriber == nil {
		return "", os.ErrInvalid
	}
	data, err := r.fetcher.DownloadMedia(ctx, messageID)
	if err != nil {
		return "", err
	}

	// Whisper wants a file; stage the bytes in a temp dir.
	dir, err := os.MkdirTemp("", "lexflow-audio-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "audio.ogg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	resp, err := r.transcriber.Transcribe(ctx, &provider.AudioRequest{FilePath: path})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// describeMedia downloads the media and asks the vision model for a
// short description. Only image payloads can go through the vision
// endpoint; anything else errors and the caller degrades.
func (r *Resolver) describeMedia(ctx context.Context, messageID string) (string, error) {
	if r.fetcher == nil || r.chat == nil {
		return "", os.ErrInvalid
	}
	data, err := r.fetcher.DownloadMedia(ctx, messageID)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("cannot describe media type %s", mime)
	}

	resp, err := r.chat.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{{
			Role:     "user",
			Content:  describePrompt,
			ImageURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		}},
		MaxTokens:   150,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	desc := strings.TrimSpace(resp.Content)
	if desc == "" {
		return "", fmt.Errorf("empty description")
	}
	return desc, nil
}
