package spread

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
)

func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(strings.ToLower(strings.TrimSpace(s))) {
	case "", TriggerManual:
		return TriggerManual, nil
	case TriggerScheduled:
		return TriggerScheduled, nil
	case TriggerAPI:
		return TriggerAPI, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

// MaxErrorMessage is the width of the error_message column.
const MaxErrorMessage = 500

// RunLog is the audit record of one pipeline execution. Written once, never
// updated.
type RunLog struct {
	ID              string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          Status
	RecordsFetched  int
	RecordsInserted int
	RecordsUpdated  int
	ErrorMessage    string
	Source          string
	Trigger         Trigger
}

// TruncateMessage cuts msg to MaxErrorMessage runes.
func TruncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessage {
		return msg
	}
	return string(runes[:MaxErrorMessage])
}
