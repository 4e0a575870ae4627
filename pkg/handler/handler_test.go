package handler

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/taskbot/pkg/config"
	"github.com/tasknest/taskbot/pkg/contextstore"
	"github.com/tasknest/taskbot/pkg/models"
)

// Fake collaborators

type fakeTaskStore struct {
	mu      sync.Mutex
	open    []models.Task
	listErr error
	delay   time.Duration
	created []*models.Task
	done    []string
}

func (f *fakeTaskStore) ListOpen(ctx context.Context, channelID string) ([]models.Task, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Task, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *fakeTaskStore) Create(ctx context.Context, task *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, task)
	return nil
}

func (f *fakeTaskStore) Complete(ctx context.Context, channelID, taskID string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, taskID)
	for i := range f.open {
		if f.open[i].TaskID == taskID {
			task := f.open[i]
			task.MarkDone()
			return &task, nil
		}
	}
	return nil, nil
}

type fakeResponder struct {
	mu     sync.Mutex
	reply  string
	err    error
	delay  time.Duration
	calls  int
	system string
}

func (f *fakeResponder) GenerateReply(ctx context.Context, history []models.Message, systemPrompt string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.system = systemPrompt
	if f.err != nil {
		return "", f.err
	}
	if f.reply == "" {
		return "canned llm reply", nil
	}
	return f.reply, nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type post struct {
	channelID string
	text      string
	threadTS  string
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	delay  time.Duration
	posts  []post
	posted chan post
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{posted: make(chan post, 16)}
}

func (f *fakeNotifier) PostMessage(ctx context.Context, channelID, text, threadTS string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	p := post{channelID: channelID, text: text, threadTS: threadTS}
	f.posts = append(f.posts, p)
	f.posted <- p
	return nil
}

func (f *fakeNotifier) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func (f *fakeNotifier) waitForPost(t *testing.T, timeout time.Duration) post {
	t.Helper()
	select {
	case p := <-f.posted:
		return p
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a notifier post")
		return post{}
	}
}

// Fixture

type fixture struct {
	handler   *Handler
	store     *contextstore.Store
	tasks     *fakeTaskStore
	responder *fakeResponder
	notifier  *fakeNotifier
	cfg       *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		SlackBotToken:       "xoxb-test",
		SlackSigningSecret:  "test-signing-secret",
		SkipVerification:    true,
		EchoCommand:         false,
		TasksTable:          "tasks",
		ContextMaxMessages:  10,
		ContextTTL:          time.Hour,
		CollaboratorTimeout: time.Second,
	}
	store := contextstore.New(cfg.ContextMaxMessages, cfg.ContextTTL, log.New(io.Discard, "", 0))
	tasks := &fakeTaskStore{}
	responder := &fakeResponder{}
	notifier := newFakeNotifier()
	h := New(cfg, store, tasks, responder, notifier, log.New(io.Discard, "", 0))
	return &fixture{
		handler:   h,
		store:     store,
		tasks:     tasks,
		responder: responder,
		notifier:  notifier,
		cfg:       cfg,
	}
}

func (f *fixture) postJSON(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) postForm(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// Handshake

func TestHandshakeRespondsWithoutAuth(t *testing.T) {
	f := newFixture(t)
	f.cfg.SkipVerification = false // handshake must not need a signature

	w := f.postJSON(`{"type":"url_verification","challenge":"abc123"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"challenge":"abc123"}`, w.Body.String())
	assert.Equal(t, 0, f.notifier.postCount())
	assert.Equal(t, 0, f.store.Len())
}

func TestHandshakeIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first := f.postJSON(`{"type":"url_verification","challenge":"abc123"}`)
	second := f.postJSON(`{"type":"url_verification","challenge":"abc123"}`)

	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 0, f.notifier.postCount())
	assert.Equal(t, 0, f.store.Len())
}

// Error responses

func TestEmptyBodyIsBadRequest(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON("")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "empty")
}

func TestBadJSONIsBadRequest(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON(`{"type":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMissingSignatureIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.cfg.SkipVerification = false

	w := f.postForm("command=%2Ftask&text=hello&channel_id=C1&user_id=U1")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, f.store.Len(), "no state before authentication")
}

func TestValidSignatureIsAccepted(t *testing.T) {
	f := newFixture(t)
	f.cfg.SkipVerification = false

	body := "command=%2Ftask&text=hello&channel_id=C1&user_id=U1"
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig := signBody(t, f.cfg.SlackSigningSecret, timestamp, []byte(body))

	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", sig)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	f.notifier.waitForPost(t, 2*time.Second)
}

// Slash command path

func TestSlashCommandAckIsEphemeral(t *testing.T) {
	f := newFixture(t)

	w := f.postForm("command=%2Ftask&text=how+are+things&channel_id=C1&user_id=U1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"response_type":"ephemeral"`)

	// The real reply arrives out of band.
	reply := f.notifier.waitForPost(t, 2*time.Second)
	assert.Equal(t, "C1", reply.channelID)
	assert.Equal(t, "canned llm reply", reply.text)
}

func TestSlashCommandAckBeatsSlowCollaborators(t *testing.T) {
	f := newFixture(t)
	f.tasks.delay = 600 * time.Millisecond
	f.responder.delay = 600 * time.Millisecond
	f.notifier.delay = 600 * time.Millisecond

	start := time.Now()
	w := f.postForm("command=%2Ftask&text=slow+question&channel_id=C1&user_id=U1")
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, elapsed, 300*time.Millisecond,
		"ack must not wait on collaborator calls; the delayed pipeline takes ~1.8s")

	reply := f.notifier.waitForPost(t, 5*time.Second)
	assert.Equal(t, "canned llm reply", reply.text)
}

// Hosts that freeze the process once the response is out (Lambda) must be
// able to run the whole pipeline before the ack leaves the handler.
func TestSynchronousDispatchCompletesBeforeAck(t *testing.T) {
	f := newFixture(t)
	f.handler.SetSynchronousDispatch(true)

	w := f.postForm("command=%2Ftask&text=how+are+things&channel_id=C1&user_id=U1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"response_type":"ephemeral"`)

	// No waiting: by the time the response exists, the reply was posted and
	// both turns are recorded.
	assert.Equal(t, 1, f.notifier.postCount())
	history := f.store.History("C1")
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
}

func TestMetricsCountActivity(t *testing.T) {
	f := newFixture(t)

	f.postForm("command=%2Ftask&text=hello&channel_id=C1&user_id=U1")
	f.notifier.waitForPost(t, 2*time.Second)
	f.postJSON("")

	m := f.handler.Metrics()
	assert.Equal(t, int64(2), m.Requests.Load())
	assert.Equal(t, int64(1), m.Jobs.Load())
	assert.GreaterOrEqual(t, m.Errors.Load(), int64(1))
}

func TestSlashCommandRecordsBothTurns(t *testing.T) {
	f := newFixture(t)

	f.postForm("command=%2Ftask&text=how+are+things&channel_id=C1&user_id=U1")
	f.notifier.waitForPost(t, 2*time.Second)

	require.Eventually(t, func() bool {
		return len(f.store.History("C1")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	history := f.store.History("C1")
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "how are things", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
}

func TestSlashCommandEchoesIntoChannel(t *testing.T) {
	f := newFixture(t)
	f.cfg.EchoCommand = true

	f.postForm("command=%2Ftask&text=list&channel_id=C1&user_id=U1")

	echo := f.notifier.waitForPost(t, 2*time.Second)
	assert.Contains(t, echo.text, "<@U1> asked: /task list")

	reply := f.notifier.waitForPost(t, 2*time.Second)
	assert.Contains(t, reply.text, "No open tasks")
}

// Canned intents skip the LLM

func TestListIntentAnswersWithoutLLM(t *testing.T) {
	f := newFixture(t)
	f.tasks.open = []models.Task{
		{TaskID: "task-1", ChannelID: "C1", Description: "buy milk", Priority: models.PriorityNormal, Status: models.TaskStatusOpen},
		{TaskID: "task-2", ChannelID: "C1", Description: "fix prod", Priority: models.PriorityHigh, Status: models.TaskStatusOpen},
	}

	f.postForm("command=%2Ftask&text=list&channel_id=C1&user_id=U1")

	reply := f.notifier.waitForPost(t, 2*time.Second)
	assert.Contains(t, reply.text, "buy milk")
	assert.Contains(t, reply.text, "fix prod")
	assert.Contains(t, reply.text, "🔴")
	assert.Equal(t, 0, f.responder.callCount())
}

func TestAddIntentCreatesTask(t *testing.T) {
	f := newFixture(t)

	f.postForm("command=%2Ftask&text=add%3A+restart+the+database+urgent&channel_id=C1&user_id=U1")

	reply := f.notifier.waitForPost(t, 2*time.Second)
	assert.Contains(t, reply.text, "Added")

	f.tasks.mu.Lock()
	defer f.tasks.mu.Unlock()
	require.Len(t, f.tasks.created, 1)
	assert.Equal(t, "restart the database urgent", f.tasks.created[0].Description)
	assert.Equal(t, models.PriorityHigh, f.tasks.created[0].Priority)
	assert.Equal(t, 0, f.responder.callCount())
}

func TestCompleteIntentMarksTaskDone(t *testing.T) {
	f := newFixture(t)
	f.tasks.open = []models.Task{
		{TaskID: "task-1", ChannelID: "C1", Description: "buy milk", Status: models.TaskStatusOpen},
	}

	f.postForm("command=%2Ftask&text=done%3A+milk&channel_id=C1&user_id=U1")

	reply := f.notifier.waitForPost(t, 2*time.Second)
	assert.Contains(t, reply.text, "done")

	f.tasks.mu.Lock()
	defer f.tasks.mu.Unlock()
	assert.Equal(t, []string{"task-1"}, f.tasks.done)
}

func TestChatIntentSeesTaskStateInPrompt(t *testing.T) {
	f := newFixture(t)
	f.tasks.open = []models.Task{
		{TaskID: "task-1", ChannelID: "C1", Description: "ship the release", Priority: models.PriorityNormal, Status: models.TaskStatusOpen},
	}

	f.postForm("command=%2Ftask&text=what+should+I+do+first%3F&channel_id=C1&user_id=U1")
	f.notifier.waitForPost(t, 2*time.Second)

	f.responder.mu.Lock()
	defer f.responder.mu.Unlock()
	assert.Contains(t, f.responder.system, "ship the release")
}

// Event callback path

func TestEventCallbackRunsInline(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON(`{
		"type": "event_callback",
		"event": {"type": "message", "text": "hello there", "channel": "C1", "user": "U1", "thread_ts": "111.222"}
	}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	// Inline path: by the time the response is out, the reply was posted.
	assert.Equal(t, 1, f.notifier.postCount())
	f.notifier.waitForPost(t, time.Second)

	history := f.store.History("C1:111.222")
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
}

func TestEventCallbackReplyIsThreaded(t *testing.T) {
	f := newFixture(t)

	f.postJSON(`{
		"type": "event_callback",
		"event": {"type": "message", "text": "hi", "channel": "C1", "user": "U1", "thread_ts": "111.222"}
	}`)

	reply := f.notifier.waitForPost(t, time.Second)
	assert.Equal(t, "111.222", reply.threadTS)
}

func TestBotMessageEventIsIgnored(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON(`{
		"type": "event_callback",
		"event": {"type": "message", "subtype": "bot_message", "text": "beep", "channel": "C1"}
	}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, 0, f.notifier.postCount())
	assert.Equal(t, 0, f.store.Len())
}

func TestUnknownShapeIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON(`{"type":"app_rate_limited"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, 0, f.notifier.postCount())
}

// Failure semantics

func TestDownstreamFailureSendsApology(t *testing.T) {
	f := newFixture(t)
	f.tasks.listErr = context.DeadlineExceeded

	w := f.postJSON(`{
		"type": "event_callback",
		"event": {"type": "message", "text": "hello", "channel": "C1", "user": "U1"}
	}`)

	// The event-callback contract holds even when the pipeline fails.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	apology := f.notifier.waitForPost(t, time.Second)
	assert.Contains(t, apology.text, "having trouble")
}

func TestResponderFailureSendsApology(t *testing.T) {
	f := newFixture(t)
	f.responder.err = context.DeadlineExceeded

	f.postForm("command=%2Ftask&text=chat+with+me&channel_id=C1&user_id=U1")

	apology := f.notifier.waitForPost(t, 2*time.Second)
	assert.Equal(t, "C1", apology.channelID)
	assert.Contains(t, apology.text, "having trouble")
}

func TestNotifierFailureIsSilent(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = context.DeadlineExceeded

	w := f.postJSON(`{
		"type": "event_callback",
		"event": {"type": "message", "text": "hello", "channel": "C1", "user": "U1"}
	}`)

	// Total silence is the accepted degraded mode; the platform still gets ok.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, 0, f.notifier.postCount())
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/slack/events", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
