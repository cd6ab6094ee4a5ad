package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/store"
)

func TestNormalizeInboundText(t *testing.T) {
	p := &Payload{
		Instance: "tenant-1",
		Event:    "messages.upsert",
		Data: PayloadData{
			Key:      MessageKey{RemoteJid: "5511999990000@s.whatsapp.net", ID: "MSG1"},
			Message:  map[string]any{"conversation": "Olá, preciso de ajuda"},
			PushName: "Maria",
		},
	}
	ev := Normalize(p)
	if ev.Kind != EventInbound {
		t.Fatalf("kind = %v", ev.Kind)
	}
	if ev.Phone != "5511999990000" {
		t.Errorf("phone = %q", ev.Phone)
	}
	if ev.Text != "Olá, preciso de ajuda" || ev.PushName != "Maria" {
		t.Errorf("ev = %+v", ev)
	}
}

func TestNormalizeIgnoresOwnMessages(t *testing.T) {
	p := &Payload{
		Data: PayloadData{
			Key:     MessageKey{RemoteJid: "5511@s.whatsapp.net", FromMe: true},
			Message: map[string]any{"conversation": "resposta nossa"},
		},
	}
	if ev := Normalize(p); ev.Kind != EventIgnored {
		t.Errorf("own message not ignored: %+v", ev)
	}
}

func TestNormalizeDeliveryUpdate(t *testing.T) {
	p := &Payload{
		Event: "messages.update",
		Data: PayloadData{
			Key:    MessageKey{RemoteJid: "5511@s.whatsapp.net", ID: "MSG9"},
			Update: &StatusUpdate{Status: "READ"},
		},
	}
	ev := Normalize(p)
	if ev.Kind != EventDelivery {
		t.Fatalf("kind = %v", ev.Kind)
	}
	if ev.MessageID != "MSG9" || ev.DeliveryStatus != store.DeliveryRead {
		t.Errorf("ev = %+v", ev)
	}
}

func TestNormalizeExtendedTextAndMedia(t *testing.T) {
	ext := Normalize(&Payload{Data: PayloadData{
		Key:     MessageKey{RemoteJid: "5511@s.whatsapp.net"},
		Message: map[string]any{"extendedTextMessage": map[string]any{"text": "com link"}},
	}})
	if ext.Text != "com link" {
		t.Errorf("extended text = %q", ext.Text)
	}

	img := Normalize(&Payload{Data: PayloadData{
		Key:         MessageKey{RemoteJid: "5511@s.whatsapp.net"},
		MessageType: "imageMessage",
		Message:     map[string]any{"imageMessage": map[string]any{"caption": "foto do documento"}},
	}})
	if img.MediaType != "imageMessage" || img.Text != "foto do documento" {
		t.Errorf("image ev = %+v", img)
	}

	group := Normalize(&Payload{Data: PayloadData{
		Key:     MessageKey{RemoteJid: "12036316@g.us"},
		Message: map[string]any{"conversation": "mensagem de grupo"},
	}})
	if group.Kind != EventIgnored {
		t.Errorf("group message not ignored: %+v", group)
	}
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) DownloadMedia(ctx context.Context, id string) ([]byte, error) {
	return f.data, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req *provider.AudioRequest) (*provider.AudioResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &provider.AudioResponse{Text: f.text}, nil
}

type fakeChat struct {
	reply   string
	err     error
	lastReq *provider.ChatRequest
}

func (f *fakeChat) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &provider.ChatResponse{Content: f.reply}, nil
}
func (f *fakeChat) Name() string         { return "fake" }
func (f *fakeChat) DefaultModel() string { return "gpt-4o" }

// pngBytes carries a real PNG header so content sniffing sees an image.
var pngBytes = []byte("\x89PNG\r\n\x1a\n0000000000")

func TestResolveAudioTranscription(t *testing.T) {
	r := NewResolver(&fakeFetcher{data: []byte("ogg")}, &fakeTranscriber{text: "quero agendar uma consulta"}, nil, nil)
	got := r.Resolve(context.Background(), Event{MediaType: "audioMessage", MessageID: "M1"})
	if got != "[áudio transcrito] quero agendar uma consulta" {
		t.Errorf("resolved = %q", got)
	}
}

func TestResolveAudioFailureFallsBack(t *testing.T) {
	r := NewResolver(&fakeFetcher{err: errors.New("gateway down")}, &fakeTranscriber{}, nil, nil)
	got := r.Resolve(context.Background(), Event{MediaType: "audioMessage", MessageID: "M1"})
	if got != "mídia recebida, não foi possível processar" {
		t.Errorf("resolved = %q", got)
	}
}

func TestResolveImageAndDocumentMarkers(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	if got := r.Resolve(context.Background(), Event{MediaType: "imageMessage", Text: "contrato"}); got != "[imagem] contrato" {
		t.Errorf("image = %q", got)
	}
	if got := r.Resolve(context.Background(), Event{MediaType: "documentMessage", Text: "peticao.pdf"}); got != "[documento] peticao.pdf" {
		t.Errorf("document = %q", got)
	}
	if got := r.Resolve(context.Background(), Event{Text: "só texto"}); got != "só texto" {
		t.Errorf("text = %q", got)
	}
}

func TestResolveImageWithoutCaptionDescribes(t *testing.T) {
	chat := &fakeChat{reply: "Contrato de honorários assinado sobre uma mesa."}
	r := NewResolver(&fakeFetcher{data: pngBytes}, nil, chat, nil)

	got := r.Resolve(context.Background(), Event{MediaType: "imageMessage", MessageID: "M1"})
	if got != "[imagem] Contrato de honorários assinado sobre uma mesa." {
		t.Errorf("resolved = %q", got)
	}
	if chat.lastReq == nil || len(chat.lastReq.Messages) != 1 {
		t.Fatalf("vision request = %+v", chat.lastReq)
	}
	if !strings.HasPrefix(chat.lastReq.Messages[0].ImageURL, "data:image/png;base64,") {
		t.Errorf("image url = %q", chat.lastReq.Messages[0].ImageURL)
	}
}

func TestResolveImageDescriptionFailureFallsBack(t *testing.T) {
	r := NewResolver(&fakeFetcher{data: pngBytes}, nil, &fakeChat{err: errors.New("model down")}, nil)
	got := r.Resolve(context.Background(), Event{MediaType: "imageMessage", MessageID: "M1"})
	if got != "mídia recebida, não foi possível processar" {
		t.Errorf("resolved = %q", got)
	}

	// Non-image bytes never reach the vision model.
	chat := &fakeChat{reply: "nunca usado"}
	r = NewResolver(&fakeFetcher{data: []byte("%PDF-1.7 ...")}, nil, chat, nil)
	got = r.Resolve(context.Background(), Event{MediaType: "documentMessage", MessageID: "M2"})
	if got != "mídia recebida, não foi possível processar" {
		t.Errorf("resolved = %q", got)
	}
	if chat.lastReq != nil {
		t.Error("vision model called for non-image payload")
	}
}

type recordingProcessor struct {
	mu     sync.Mutex
	tenant string
	events []Event
}

func (p *recordingProcessor) Process(ctx context.Context, tenantID string, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenant = tenantID
	p.events = append(p.events, ev)
}

func TestHandlerAcceptsAndDispatches(t *testing.T) {
	proc := &recordingProcessor{}
	mux := http.NewServeMux()
	NewHandler(proc, nil).Register(mux)

	body := `{"instance":"i1","data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"M1"},"message":{"conversation":"Olá"}}}`
	req := httptest.NewRequest("POST", "/webhook/tenant-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		proc.mu.Lock()
		n := len(proc.events)
		proc.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event never processed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if proc.tenant != "tenant-1" || proc.events[0].Text != "Olá" {
		t.Errorf("processed = %q %+v", proc.tenant, proc.events[0])
	}
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&recordingProcessor{}, nil).Register(mux)

	req := httptest.NewRequest("POST", "/webhook/t1", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}
