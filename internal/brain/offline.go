package brain

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// OfflineGenerator answers common project-management requests from a fixed
// keyword table. It needs no backend and is the auto-mode default.
type OfflineGenerator struct{}

func NewOfflineGenerator() *OfflineGenerator { return &OfflineGenerator{} }

var (
	remindPersonRe = regexp.MustCompile(`remind\s+(\w+)`)
	remindTaskRe   = regexp.MustCompile(`about\s+(.+?)(?:$|\s+by|\s+on)`)
	meetingDateRe  = regexp.MustCompile(`\bon\s+(\w+(?:\s+\d+)?)`)
	meetingTimeRe  = regexp.MustCompile(`\bat\s+(\d+(?::\d+)?\s*(?:am|pm)?)`)
	meetingWithRe  = regexp.MustCompile(`with\s+(.+?)(?:\s+on|\s+at|\s*$)`)
)

const (
	replyDueTasks = "You have 3 tasks due this week: 'Prepare Q1 Report' due on April 10, " +
		"'Update client presentation' due on April 7, and 'Review marketing materials' due on April 5. " +
		"Would you like me to send reminders to the assignees?"
	replyPMBasics = "Project management involves planning, organizing, and overseeing projects to achieve " +
		"specific goals within constraints like time and budget. You can create and track tasks, view project " +
		"status, schedule meetings, and configure team members. What specific aspect of project management " +
		"would you like to learn more about?"
	replyGantt = "A Gantt chart is a visual project management tool that shows a project's tasks against time. " +
		"It shows what needs to be completed, when each task begins and ends, how long each takes, and where " +
		"tasks overlap. Would you like me to explain other project management concepts?"
	replyAgile = "Agile is a project management approach that breaks projects into small, manageable phases " +
		"called sprints. It emphasizes iterative development, team collaboration, customer feedback, and " +
		"flexibility to change. Would you like me to explain how to set up an Agile workflow?"
	replyCapabilities = "I can help you manage your project by tracking tasks and deadlines, sending reminders " +
		"to team members, scheduling meetings, providing project status updates, and answering questions about " +
		"project management concepts. What would you like help with today?"
	replyMeetingDetails = "I'd be happy to schedule a meeting. Could you provide more details? When should it " +
		"take place? Who should attend? What's the purpose of the meeting?"
	replyProjectStatus = "The project is progressing well. You have 12 tasks total with 5 completed, giving a " +
		"42% completion rate. You're on schedule with 3 tasks due in the next 3 days. There's 1 overdue task " +
		"that needs attention. Your next milestone is the client presentation on April 15. Would you like me " +
		"to send a detailed status report to the team?"
	replyVoiceHelp = "You can change my voice in the voice settings. You can choose from different voices and " +
		"adjust the speaking speed."
	replyDefault = "I'm here to help with your project management needs. You can ask me about tasks and " +
		"deadlines, scheduling meetings, sending reminders, project status updates, or project management " +
		"concepts. For example, try asking 'What tasks are due?' or 'Help me understand Agile methodology'."
)

func (g *OfflineGenerator) Generate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return offlineReply(strings.ToLower(strings.TrimSpace(text))), nil
}

// offlineReply matches in order; the first rule that fits wins.
func offlineReply(in string) string {
	has := func(words ...string) bool {
		for _, w := range words {
			if !strings.Contains(in, w) {
				return false
			}
		}
		return true
	}

	switch {
	case has("tasks", "due"):
		return replyDueTasks
	case has("help", "understand", "project management"):
		return replyPMBasics
	case has("what", "gantt chart"):
		return replyGantt
	case has("what", "agile"):
		return replyAgile
	case has("what can you do"), has("help me with"):
		return replyCapabilities
	case remindPersonRe.MatchString(in):
		return reminderReply(in)
	case has("schedule", "meeting"):
		return meetingReply(in)
	case has("project") && (has("status") || has("progress") || has("going")):
		return replyProjectStatus
	case has("voice") && (has("change") || has("switch")):
		return replyVoiceHelp
	default:
		return replyDefault
	}
}

func reminderReply(in string) string {
	person := "someone"
	if m := remindPersonRe.FindStringSubmatch(in); m != nil {
		person = m[1]
	}
	task := "their tasks"
	if m := remindTaskRe.FindStringSubmatch(in); m != nil {
		task = m[1]
	}
	return fmt.Sprintf("I've sent a reminder to %s about %s. They'll receive an email notification shortly. "+
		"Would you like me to follow up if they don't respond within 24 hours?", capitalize(person), task)
}

func meetingReply(in string) string {
	date := meetingDateRe.FindStringSubmatch(in)
	at := meetingTimeRe.FindStringSubmatch(in)
	if date == nil || at == nil {
		return replyMeetingDetails
	}
	attendees := "the team"
	if m := meetingWithRe.FindStringSubmatch(in); m != nil {
		attendees = m[1]
	}
	return fmt.Sprintf("I've scheduled a meeting on %s at %s with %s. Calendar invites have been sent to all "+
		"participants. Would you like me to prepare an agenda for this meeting?", date[1], strings.TrimSpace(at[1]), attendees)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
