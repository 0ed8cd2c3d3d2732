package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/call"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/dialog"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/registry"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/stt"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/telemetry"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/telephony"
)

// app wires the long-lived collaborators shared across every call: the
// telephony client, the call registry, the webhook/media HTTP server, and
// the factories needed to build each call's DialogEngine and TTSClient.
type app struct {
	cfg         config.Config
	reg         *registry.Registry
	tel         *telephony.Client
	llm         dialog.LLMTurnProvider
	tts         *ttsProvider.StreamingTTS
	stats       *telemetry.PipelineCounters
	logger      orchestrator.Logger
	mediaServer *telephony.MediaSocketServer
}

func main() {
	cfg := config.Load()

	var toNumber, fromNumber string
	flag.StringVar(&toNumber, "to", "", "callee number to originate an outbound call to")
	flag.StringVar(&fromNumber, "from", "", "caller-id number to originate from")
	var listenAddr string
	flag.StringVar(&listenAddr, "listen", ":8080", "address for the webhook and media-socket HTTP server")
	flag.Parse()

	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	if anthropicKey == "" {
		log.Fatal("Error: ANTHROPIC_API_KEY must be set for the qualification dialog LLM")
	}
	anthropicModel := os.Getenv("ANTHROPIC_MODEL")
	if anthropicModel == "" {
		anthropicModel = "claude-3-5-sonnet-20241022"
	}

	stats, err := telemetry.NewPipelineCounters()
	if err != nil {
		log.Fatalf("callagent: telemetry init failed: %v", err)
	}

	logger := orchestrator.NewStdLogger()

	a := &app{
		cfg:         cfg,
		reg:         registry.New(),
		tel:         telephony.New(cfg.TelephonyAPIURL, cfg.TelephonyAPIKey),
		llm:         llmProvider.NewAnthropicToolLLM(anthropicKey, anthropicModel),
		tts:         ttsProvider.NewStreamingTTS(cfg.TTSProviderKey, os.Getenv("TTS_HOST")),
		stats:       stats,
		logger:      logger,
		mediaServer: telephony.NewMediaSocketServer(cfg.MaxWebSocketConns, logger),
	}

	mux := http.NewServeMux()
	mux.Handle("/webhooks/telephony", telephony.NewWebhookServer(a.onWebhook))
	mux.HandleFunc("/media", a.onMediaUpgrade)

	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		log.Printf("callagent: listening on %s", listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("callagent: server error: %v", err)
		}
	}()

	if toNumber != "" {
		ctx := context.Background()
		id, err := a.tel.Originate(ctx, fromNumber, toNumber)
		if err != nil {
			log.Fatalf("callagent: originate failed: %v", err)
		}
		a.newController(call.New(id, fromNumber, toNumber))
		fmt.Printf("callagent: call %s originated to %s\n", id, toNumber)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\ncallagent: shutting down...")
	a.reg.TeardownAll()
}

// onWebhook dispatches a normalized telephony webhook to the registered
// call's controller. Events for an unknown call-control id are logged and
// dropped — the provider retries webhooks on a non-2xx, and ours already
// returned 200 before this runs, so there is nothing further to
// acknowledge here (spec.md §6 "5s ack" contract).
func (a *app) onWebhook(evt telephony.WebhookEvent) {
	handle, ok := a.reg.Get(evt.Payload.CallControlID)
	if !ok {
		log.Printf("callagent: webhook for unknown call %s", evt.Payload.CallControlID)
		return
	}
	ctrl, ok := handle.(*call.Controller)
	if !ok {
		return
	}
	ctrl.HandleWebhook(evt)
}

// onMediaUpgrade upgrades an inbound provider media-socket connection,
// looks up the owning call by its call_control_id query parameter (per
// mediasocket.go's own doc comment on where that id comes from), and binds
// a fresh realtime STTClient to the call's controller.
func (a *app) onMediaUpgrade(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_control_id")
	handle, ok := a.reg.Get(callID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}
	ctrl, ok := handle.(*call.Controller)
	if !ok {
		http.Error(w, "call not ready", http.StatusConflict)
		return
	}

	var streamID string
	ms, err := a.mediaServer.Upgrade(w, r, telephony.MediaSocketHandlers{
		OnStart: func(id string) { streamID = id; ctrl.HandleMediaStart() },
		OnMedia: func(audio []byte) { ctrl.HandleMediaAudio(audio) },
		OnStop:  func() { ctrl.HandleMediaStop() },
	})
	if err != nil {
		log.Printf("callagent: media upgrade failed for %s: %v", callID, err)
		return
	}

	sttClient := stt.New(a.sttTokenURL(), a.cfg.STTRealtimeURL, a.cfg.STTProviderKey)
	ctrl.AttachMediaSocket(ms, streamID, sttClient)

	go ms.ReadLoop()
}

func (a *app) sttTokenURL() string {
	if v := os.Getenv("STT_TOKEN_URL"); v != "" {
		return v
	}
	base := strings.TrimSuffix(a.cfg.STTRealtimeURL, "/realtime")
	if rest, ok := strings.CutPrefix(base, "wss://"); ok {
		base = "https://" + rest
	} else if rest, ok := strings.CutPrefix(base, "ws://"); ok {
		base = "http://" + rest
	}
	return base + "/token"
}

// newController builds a Controller wired to this app's shared
// collaborators plus a fresh DialogEngine for one outbound leg, registers
// it under the call's id, and starts its supervisor goroutine.
func (a *app) newController(c *call.Call) *call.Controller {
	engine := dialog.New(a.llm)
	ctrl := call.NewController(c, a.reg, a.tel, engine, a.tts, a.stats, a.logger, a.cfg.AgentTransferNumber)
	a.reg.Insert(ctrl)
	go ctrl.Run()
	return ctrl
}
