package configstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fleetedge/deployd/pkg/configtree"
)

// CommandOp names a transaction-log entry's operation, mirroring the
// teacher's manager.Command{Op, Data} shape (pkg/manager/fsm.go) but
// replayed sequentially at startup instead of through Raft consensus.
type CommandOp string

const (
	OpWrite  CommandOp = "write"
	OpRemove CommandOp = "remove"
)

// Command is one append-only transaction-log entry.
type Command struct {
	Op        CommandOp       `json:"op"`
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TransactionLog appends Commands to config/config.tlog (§6 "Persisted
// state layout") and can replay them sequentially to rebuild a Tree at
// startup.
type TransactionLog struct {
	path string
	file *os.File
	mu   chan struct{} // 1-buffered mutex so Append is safe for concurrent callers
}

// OpenTransactionLog opens (creating if absent) the log file at path for
// appending.
func OpenTransactionLog(path string) (*TransactionLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("configstore: open transaction log %s: %w", path, err)
	}
	l := &TransactionLog{path: path, file: f, mu: make(chan struct{}, 1)}
	l.mu <- struct{}{}
	return l, nil
}

// Append serializes cmd as one JSON line and flushes it to disk.
func (l *TransactionLog) Append(cmd Command) error {
	<-l.mu
	defer func() { l.mu <- struct{}{} }()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("configstore: marshal command: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("configstore: append transaction log: %w", err)
	}
	return l.file.Sync()
}

// Close closes the underlying file handle.
func (l *TransactionLog) Close() error {
	return l.file.Close()
}

// ReplayTransactionLog reads every Command from path in order and applies
// it to tree, rebuilding live state from the persisted log at startup. A
// missing file replays as empty.
func ReplayTransactionLog(path string, tree *Tree) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("configstore: open transaction log %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			return fmt.Errorf("configstore: corrupt transaction log entry: %w", err)
		}
		if err := applyCommand(tree, cmd); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("configstore: reading transaction log: %w", err)
	}
	return nil
}

func applyCommand(tree *Tree, cmd Command) error {
	ptr, err := configtree.ParsePointer(cmd.Path)
	if err != nil {
		return err
	}
	switch cmd.Op {
	case OpWrite:
		v, err := configtree.FromJSON(cmd.Value)
		if err != nil {
			return fmt.Errorf("configstore: decode transaction log value: %w", err)
		}
		tree.Write(ptr, v, cmd.Timestamp)
	case OpRemove:
		tree.Remove(ptr, cmd.Timestamp)
	default:
		return fmt.Errorf("configstore: unknown transaction log op %q", cmd.Op)
	}
	return nil
}
