package handler

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tasknest/taskbot/pkg/config"
	"github.com/tasknest/taskbot/pkg/contextstore"
	"github.com/tasknest/taskbot/pkg/models"
)

// thinkingMessage is the ephemeral ack returned for slash commands. Slack
// gives us 3 seconds to answer; the real reply arrives later via the
// notifier.
const thinkingMessage = "🤔 Working on it..."

// TaskStore is the task persistence collaborator
type TaskStore interface {
	ListOpen(ctx context.Context, channelID string) ([]models.Task, error)
	Create(ctx context.Context, task *models.Task) error
	Complete(ctx context.Context, channelID, taskID string) (*models.Task, error)
}

// Responder is the LLM collaborator that turns a conversation into a reply
type Responder interface {
	GenerateReply(ctx context.Context, history []models.Message, systemPrompt string) (string, error)
}

// Notifier posts finished replies back to the chat surface
type Notifier interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) error
}

// Response is a transport-neutral HTTP result, shared by the net/http server
// and the Lambda entrypoint.
type Response struct {
	StatusCode int
	Body       string
}

// Handler is the webhook ingestion core: it authenticates and classifies
// inbound requests, acknowledges them within Slack's deadline, and hands the
// slow reply pipeline to detached dispatch jobs.
type Handler struct {
	cfg       *config.Config
	store     *contextstore.Store
	tasks     TaskStore
	responder Responder
	notifier  Notifier
	logger    *log.Logger
	metrics   *Metrics

	// syncDispatch runs slash-command jobs before returning the ack instead
	// of in a detached goroutine. Required on hosts that freeze the process
	// as soon as the response is out (Lambda); the ack then arrives after
	// the pipeline, not within the 3-second window.
	syncDispatch bool
}

// New constructs a Handler
func New(cfg *config.Config, store *contextstore.Store, tasks TaskStore, responder Responder, notifier Notifier, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stdout, "handler ", log.LstdFlags)
	}
	return &Handler{
		cfg:       cfg,
		store:     store,
		tasks:     tasks,
		responder: responder,
		notifier:  notifier,
		logger:    logger,
		metrics:   &Metrics{},
	}
}

// Metrics exposes the handler's counters
func (h *Handler) Metrics() *Metrics {
	return h.metrics
}

// SetSynchronousDispatch makes slash-command jobs run inline before the ack
// is returned. Use it when the runtime cannot keep a goroutine alive past the
// response (Lambda freezes the execution environment on return, which would
// suspend a detached job before its first collaborator call).
func (h *Handler) SetSynchronousDispatch(sync bool) {
	h.syncDispatch = sync
}

// ServeHTTP implements http.Handler for the single POST webhook endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("read body: %v", err)
		writeResponse(w, badRequest("unreadable body"))
		return
	}

	resp := h.Handle(
		r.Context(),
		body,
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		r.Header.Get("Content-Type"),
	)
	writeResponse(w, resp)
}

// Handle runs the ingestion state machine over a raw request:
// received → classified → one of handshake-responded, ack-sent+dispatched,
// ignored, or error-responded.
func (h *Handler) Handle(ctx context.Context, body []byte, timestamp, signature, contentType string) Response {
	start := time.Now()
	h.metrics.RecordRequest()

	req, err := Classify(body, contentType)
	if err != nil {
		h.metrics.RecordError()
		h.logger.Printf("classify: %v", err)
		return h.finish(ctx, start, "error", badRequest(err.Error()))
	}

	// The handshake proves endpoint ownership to Slack and carries an inert
	// payload; it is exempt from signature verification.
	if req.Kind == models.KindHandshake {
		return h.finish(ctx, start, "handshake", okResponse(map[string]string{
			"challenge": req.Challenge,
		}))
	}

	if !h.cfg.SkipVerification && !VerifySignature(body, timestamp, signature, h.cfg.SlackSigningSecret) {
		h.metrics.RecordError()
		h.logger.Printf("rejected request with invalid signature")
		return h.finish(ctx, start, "error", forbidden("invalid signature"))
	}

	switch req.Kind {
	case models.KindSlashCommand:
		return h.finish(ctx, start, "slash_command", h.handleSlashCommand(req))

	case models.KindEventCallback:
		return h.finish(ctx, start, "event_callback", h.handleEventCallback(ctx, req))

	default:
		h.logger.Printf("acknowledging unknown request shape")
		return h.finish(ctx, start, "unknown", okResponse(map[string]bool{"ok": true}))
	}
}

// handleSlashCommand records the user turn, spawns the detached dispatch job,
// and returns the ephemeral ack without waiting on anything. No network I/O
// happens on this path unless synchronous dispatch is enabled.
func (h *Handler) handleSlashCommand(req *models.InboundRequest) Response {
	key := contextstore.Key(req.ChannelID, req.ThreadTS)
	h.store.Touch(key, req.Text)

	job := h.newJob(req, key, h.store.History(key))
	h.metrics.RecordJob()

	if h.syncDispatch {
		h.runJob(context.Background(), job)
	} else {
		// Detached: the job outlives this request and must not inherit its
		// cancellation. Nothing waits on it and nothing retries it.
		go h.runJob(context.Background(), job)
	}

	return okResponse(map[string]string{
		"text":          thinkingMessage,
		"response_type": "ephemeral",
	})
}

// handleEventCallback runs the reply pipeline inline. Slack imposes no hard
// deadline on event deliveries, so there is no background job here; the
// response is {"ok":true} no matter what happens inside, because anything
// else triggers platform-side redelivery of an event we already consumed.
func (h *Handler) handleEventCallback(ctx context.Context, req *models.InboundRequest) Response {
	if req.Ignorable {
		h.logger.Printf("ignoring platform-authored event (subtype=%q)", req.EventSubtype)
		return okResponse(map[string]bool{"ok": true})
	}

	key := contextstore.Key(req.ChannelID, req.ThreadTS)
	h.store.Touch(key, req.Text)

	job := h.newJob(req, key, h.store.History(key))
	h.runJob(ctx, job)

	return okResponse(map[string]bool{"ok": true})
}

func (h *Handler) finish(ctx context.Context, start time.Time, kind string, resp Response) Response {
	elapsed := time.Since(start)
	h.metrics.RecordLatency(elapsed)
	recordOTelMetrics(ctx, []attribute.KeyValue{
		attribute.String("kind", kind),
	}, elapsed, resp.StatusCode >= 400)
	return resp
}

// Response helpers

func okResponse(body interface{}) Response {
	data, _ := json.Marshal(body)
	return Response{StatusCode: http.StatusOK, Body: string(data)}
}

func badRequest(message string) Response {
	data, _ := json.Marshal(map[string]string{"error": message})
	return Response{StatusCode: http.StatusBadRequest, Body: string(data)}
}

func forbidden(message string) Response {
	data, _ := json.Marshal(map[string]string{"error": message})
	return Response{StatusCode: http.StatusForbidden, Body: string(data)}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))
}
