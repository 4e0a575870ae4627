package intent

import (
	"regexp"
	"strings"

	"github.com/tasknest/taskbot/pkg/models"
)

// Kind is the recognized intent of a user utterance
type Kind string

const (
	// Add creates a new task from the argument text
	Add Kind = "add"
	// List shows the channel's open tasks
	List Kind = "list"
	// Complete marks a task done
	Complete Kind = "complete"
	// Help shows usage
	Help Kind = "help"
	// Chat is everything else and goes to the LLM
	Chat Kind = "chat"
)

// Result carries the classified intent plus its extracted argument
type Result struct {
	Kind     Kind
	Argument string
	Priority string
}

var (
	addPattern      = regexp.MustCompile(`(?i)^(?:add|create|remember|track|todo)\b[:\s]+(.+)$`)
	listPattern     = regexp.MustCompile(`(?i)^(?:list|show|what)\b.*(?:tasks?|todos?)\b|^(?:tasks?|todos?)$|^list$`)
	completePattern = regexp.MustCompile(`(?i)^(?:done|complete|finish(?:ed)?|close)\b[:\s]+(.+)$`)
	helpPattern     = regexp.MustCompile(`(?i)^(?:help|usage)\b`)
	urgentPattern   = regexp.MustCompile(`(?i)\b(?:urgent|asap|critical|immediately|right away)\b|!{2,}`)
)

// Classify maps an utterance to an intent. Unrecognized text falls through to
// Chat so the LLM sees it verbatim.
func Classify(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Kind: Chat, Argument: trimmed}
	}

	if helpPattern.MatchString(trimmed) {
		return Result{Kind: Help}
	}
	if m := addPattern.FindStringSubmatch(trimmed); m != nil {
		return Result{
			Kind:     Add,
			Argument: strings.TrimSpace(m[1]),
			Priority: DetectPriority(trimmed),
		}
	}
	if m := completePattern.FindStringSubmatch(trimmed); m != nil {
		return Result{Kind: Complete, Argument: strings.TrimSpace(m[1])}
	}
	if listPattern.MatchString(trimmed) {
		return Result{Kind: List}
	}

	return Result{Kind: Chat, Argument: trimmed, Priority: DetectPriority(trimmed)}
}

// DetectPriority flags urgency markers in the utterance
func DetectPriority(text string) string {
	if urgentPattern.MatchString(text) {
		return models.PriorityHigh
	}
	return models.PriorityNormal
}
