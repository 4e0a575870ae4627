package handler

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tasknest/taskbot/pkg/intent"
	"github.com/tasknest/taskbot/pkg/models"
)

const apologyMessage = "😓 I'm having trouble generating a response right now. Please try again in a moment."

const helpMessage = `Here's what I can do:
• *add: <description>* — track a new task (mention "urgent" to flag it)
• *list* — show this channel's open tasks
• *done: <description>* — mark a task complete
• anything else — I'll answer with the conversation in mind`

// DispatchJob is one unit of fire-and-forget reply work. It owns a snapshot
// of the conversation taken when it was spawned; the shared store may move on
// underneath it. It has no retry, no deadline, and no way to reach the HTTP
// caller: that response was sent before the job started.
type DispatchJob struct {
	ID      string
	Request *models.InboundRequest
	Key     string
	History []models.Message
}

func (h *Handler) newJob(req *models.InboundRequest, key string, history []models.Message) *DispatchJob {
	id, _ := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	return &DispatchJob{
		ID:      "job-" + id.String(),
		Request: req,
		Key:     key,
		History: history,
	}
}

// runJob is the outermost boundary of a dispatch job. Nothing escapes it:
// errors and panics alike are logged, turned into a best-effort apology when
// a target channel is known, and dropped.
func (h *Handler) runJob(ctx context.Context, job *DispatchJob) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.RecordError()
			h.logger.Printf("%s: panic: %v", job.ID, r)
			h.apologize(ctx, job.Request)
		}
	}()

	if err := h.process(ctx, job); err != nil {
		h.metrics.RecordError()
		h.logger.Printf("%s: %v", job.ID, err)
		h.apologize(ctx, job.Request)
	}
}

// process runs the reply pipeline for one job, strictly in order: echo the
// command, fetch task state, classify intent, apply any task action, build
// the reply, record the assistant turn, post the reply.
func (h *Handler) process(ctx context.Context, job *DispatchJob) error {
	req := job.Request

	// The slash-command ack is ephemeral, so without this echo the rest of
	// the channel never sees what was asked. Best effort.
	if req.Kind == models.KindSlashCommand && h.cfg.EchoCommand {
		echo := strings.TrimSpace(fmt.Sprintf("<@%s> asked: %s %s", req.UserID, req.Command, req.Text))
		if err := h.notifier.PostMessage(ctx, req.ChannelID, echo, req.ThreadTS); err != nil {
			h.logger.Printf("%s: echo command: %v", job.ID, err)
		}
	}

	tasks, err := h.tasks.ListOpen(ctx, req.ChannelID)
	if err != nil {
		return fmt.Errorf("list open tasks: %w", err)
	}

	result := intent.Classify(req.Text)

	reply, err := h.buildReply(ctx, job, result, tasks)
	if err != nil {
		return err
	}

	h.store.AppendReply(job.Key, reply)

	if err := h.notifier.PostMessage(ctx, req.ChannelID, reply, req.ThreadTS); err != nil {
		// The only delivery channel is down; logging is all that's left.
		h.logger.Printf("%s: post reply: %v", job.ID, err)
	}

	return nil
}

// buildReply applies the task action for the recognized intent and produces
// the reply text. Recognized intents answer canned, without an LLM call.
func (h *Handler) buildReply(ctx context.Context, job *DispatchJob, result intent.Result, tasks []models.Task) (string, error) {
	req := job.Request

	switch result.Kind {
	case intent.Help:
		return helpMessage, nil

	case intent.List:
		return formatTaskList(tasks), nil

	case intent.Add:
		task := models.NewTask(req.ChannelID, req.UserID, result.Argument, result.Priority)
		if err := h.tasks.Create(ctx, task); err != nil {
			return "", fmt.Errorf("create task: %w", err)
		}
		if task.Priority == models.PriorityHigh {
			return fmt.Sprintf("✅ Added *%s* (flagged high priority).", task.Description), nil
		}
		return fmt.Sprintf("✅ Added *%s*.", task.Description), nil

	case intent.Complete:
		match := matchTask(tasks, result.Argument)
		if match == nil {
			return fmt.Sprintf("I couldn't find an open task matching *%s*.", result.Argument), nil
		}
		if _, err := h.tasks.Complete(ctx, req.ChannelID, match.TaskID); err != nil {
			return "", fmt.Errorf("complete task %s: %w", match.TaskID, err)
		}
		return fmt.Sprintf("🎉 Marked *%s* as done.", match.Description), nil

	default:
		reply, err := h.responder.GenerateReply(ctx, job.History, buildSystemPrompt(tasks))
		if err != nil {
			return "", fmt.Errorf("generate reply: %w", err)
		}
		return reply, nil
	}
}

// apologize posts the generic failure message when a target is known. A
// notifier failure here is terminal and only logged.
func (h *Handler) apologize(ctx context.Context, req *models.InboundRequest) {
	if req == nil || req.ChannelID == "" {
		return
	}
	if err := h.notifier.PostMessage(ctx, req.ChannelID, apologyMessage, req.ThreadTS); err != nil {
		h.logger.Printf("failed to deliver apology to %s: %v", req.ChannelID, err)
	}
}

// matchTask finds an open task whose id or description matches the argument
func matchTask(tasks []models.Task, argument string) *models.Task {
	needle := strings.ToLower(strings.TrimSpace(argument))
	if needle == "" {
		return nil
	}
	for i := range tasks {
		if tasks[i].TaskID == argument {
			return &tasks[i]
		}
	}
	for i := range tasks {
		if strings.Contains(strings.ToLower(tasks[i].Description), needle) {
			return &tasks[i]
		}
	}
	return nil
}

func formatTaskList(tasks []models.Task) string {
	if len(tasks) == 0 {
		return "No open tasks in this channel. 🎉"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Open tasks (%d):\n", len(tasks))
	for _, task := range tasks {
		if task.Priority == models.PriorityHigh {
			fmt.Fprintf(&b, "• 🔴 %s\n", task.Description)
			continue
		}
		fmt.Fprintf(&b, "• %s\n", task.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildSystemPrompt gives the LLM the channel's current task state so chat
// replies stay grounded in it.
func buildSystemPrompt(tasks []models.Task) string {
	var b strings.Builder
	b.WriteString("You are Taskbot, a Slack assistant that helps a channel track its tasks. ")
	b.WriteString("Answer briefly and use Slack markdown. ")
	if len(tasks) == 0 {
		b.WriteString("The channel currently has no open tasks.")
		return b.String()
	}
	b.WriteString("The channel's open tasks are:\n")
	for _, task := range tasks {
		fmt.Fprintf(&b, "- %s (priority: %s)\n", task.Description, task.Priority)
	}
	return b.String()
}
