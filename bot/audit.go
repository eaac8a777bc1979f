package bot

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUDIT LOG - Append-only, hash-chained JSONL
// ═══════════════════════════════════════════════════════════════════════════════
//
// One JSON object per line. Each record's event_hash covers its own
// canonical serialization (sorted keys, event_hash excluded) and its
// previous_hash points at the prior record's event_hash, so any edit or
// deletion breaks verification from that point on. Genesis previous
// hash is 64 zeros.
//
// ═══════════════════════════════════════════════════════════════════════════════

// GenesisHash anchors the chain
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEvent is one chained record
type AuditEvent struct {
	Timestamp    string                 `json:"timestamp"`
	EventType    string                 `json:"event_type"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	Details      map[string]interface{} `json:"details"`
	PreviousHash string                 `json:"previous_hash"`
	EventHash    string                 `json:"event_hash"`
}

// AuditLogger appends chained events to a JSONL file
type AuditLogger struct {
	mu       sync.Mutex
	f        *os.File
	prevHash string
}

// NewAuditLogger opens (or creates) the log and resumes the chain from
// the last record's hash
func NewAuditLogger(path string) (*AuditLogger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	prev := GenesisHash
	if data, err := os.ReadFile(path); err == nil {
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if last := lines[len(lines)-1]; last != "" {
			var ev AuditEvent
			if err := json.Unmarshal([]byte(last), &ev); err == nil && ev.EventHash != "" {
				prev = ev.EventHash
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &AuditLogger{f: f, prevHash: prev}, nil
}

// Append writes one chained record and syncs it to disk
func (a *AuditLogger) Append(eventType, actor, action string, details map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ev := AuditEvent{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		EventType:    eventType,
		Actor:        actor,
		Action:       action,
		Details:      details,
		PreviousHash: a.prevHash,
	}
	hash, err := hashEvent(ev)
	if err != nil {
		return err
	}
	ev.EventHash = hash

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := a.f.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := a.f.Sync(); err != nil {
		return err
	}
	a.prevHash = hash
	return nil
}

// Close releases the file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}

// hashEvent computes SHA-256 over the canonical serialization: a JSON
// object with sorted keys and event_hash excluded. Marshalling a map
// gives the sorted-key property for every nesting level.
func hashEvent(ev AuditEvent) (string, error) {
	canonical := map[string]interface{}{
		"timestamp":     ev.Timestamp,
		"event_type":    ev.EventType,
		"actor":         ev.Actor,
		"action":        ev.Action,
		"details":       ev.Details,
		"previous_hash": ev.PreviousHash,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain re-walks a log file and reports whether every hash and
// every link checks out
func VerifyChain(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	prev := GenesisHash
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev AuditEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return false, fmt.Errorf("audit line %d: %w", lineNo, err)
		}
		if ev.PreviousHash != prev {
			return false, nil
		}
		hash, err := hashEvent(ev)
		if err != nil {
			return false, err
		}
		if hash != ev.EventHash {
			return false, nil
		}
		prev = ev.EventHash
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return true, nil
}
