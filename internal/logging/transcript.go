// Transcript logging records the raw life of every streaming session as
// JSONL events: trigger calls, connection attempts, frames, settlements.
// When many units fail inside one batch, the transcript is what makes each
// failure individually diagnosable after the fact.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptEventType defines the type of transcript event
type TranscriptEventType string

const (
	// Session lifecycle
	TranscriptSessionStart TranscriptEventType = "session_start"
	TranscriptSessionEnd   TranscriptEventType = "session_end"

	// Trigger calls
	TranscriptTriggerSent   TranscriptEventType = "trigger_sent"
	TranscriptTriggerFailed TranscriptEventType = "trigger_failed"

	// Connection lifecycle
	TranscriptConnectAttempt TranscriptEventType = "connect_attempt"
	TranscriptConnectOpen    TranscriptEventType = "connect_open"
	TranscriptConnectRetry   TranscriptEventType = "connect_retry"
	TranscriptConnectFailed  TranscriptEventType = "connect_failed"
	TranscriptConnectClosed  TranscriptEventType = "connect_closed"

	// Frames
	TranscriptFrame TranscriptEventType = "frame"

	// Batch units
	TranscriptUnitState TranscriptEventType = "unit_state"
)

// TranscriptEvent is one JSONL entry in the transcript file.
type TranscriptEvent struct {
	Timestamp int64               `json:"ts"` // Unix milliseconds
	EventType TranscriptEventType `json:"event"`
	SessionID string              `json:"session,omitempty"`
	SubID     string              `json:"sub,omitempty"`
	Attempt   int                 `json:"attempt,omitempty"`
	Kind      string              `json:"kind,omitempty"` // frame kind
	Detail    string              `json:"detail,omitempty"`
	Error     string              `json:"error,omitempty"`
}

var (
	transcriptFile *os.File
	transcriptMu   sync.Mutex
)

// InitTranscript opens the transcript file. No-op unless debug mode is on.
func InitTranscript() error {
	if !IsDebugMode() {
		return nil
	}

	transcriptMu.Lock()
	defer transcriptMu.Unlock()

	if transcriptFile != nil {
		return nil // Already initialized
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_transcript.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	transcriptFile = file
	return nil
}

// CloseTranscript closes the transcript file (call at shutdown)
func CloseTranscript() {
	transcriptMu.Lock()
	defer transcriptMu.Unlock()

	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
}

// Transcript records one event. Safe to call from any goroutine; silently a
// no-op when the transcript is not initialized.
func Transcript(event TranscriptEvent) {
	transcriptMu.Lock()
	defer transcriptMu.Unlock()

	if transcriptFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	transcriptFile.Write(append(data, '\n'))
}

// TranscriptFrameEvent records a delivered frame for a session.
func TranscriptFrameEvent(sessionID, kind, detail string) {
	Transcript(TranscriptEvent{
		EventType: TranscriptFrame,
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
	})
}

// TranscriptUnitEvent records a batch unit state transition.
func TranscriptUnitEvent(subID, sessionID, state string) {
	Transcript(TranscriptEvent{
		EventType: TranscriptUnitState,
		SubID:     subID,
		SessionID: sessionID,
		Detail:    state,
	})
}
