package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

func newID(prefix string, length int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if length > len(hex) {
		length = len(hex)
	}
	return prefix + "_" + hex[:length]
}

func NewRunID() string      { return newID("run", 10) }
func NewActionID() string   { return newID("action", 8) }
func NewStepID() string     { return newID("step", 8) }
func NewAuditID() string    { return newID("audit", 8) }
func NewArtifactID() string { return newID("artifact", 8) }

// NowISO returns the current UTC time as an ISO-8601 string; run timestamps
// are stored as strings so RunSession round-trips through JSON without loss.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func NewPlanStep(title string) PlanStep {
	return PlanStep{ID: NewStepID(), Title: title, Status: StepStatusPending}
}

func NewTimelineEvent(agent string, event string, content string) TimelineEvent {
	return TimelineEvent{Timestamp: NowISO(), Agent: agent, Event: event, Content: content}
}

func NewAuditEntry(actor string, role ActorRole, action string, detail string) AuditEntry {
	return AuditEntry{ID: NewAuditID(), Timestamp: NowISO(), Actor: actor, ActorRole: role, Action: action, Detail: detail}
}

func NewArtifact(kind ArtifactKind, title string, content string) Artifact {
	return Artifact{ID: NewArtifactID(), Kind: kind, Title: title, Content: content}
}
