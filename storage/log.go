package storage

import "fmt"

// LogMessage is a single message to a log
type LogMessage struct {
	EntryType uint16
	Data      []byte
}

// WriteLog is a set of append-only logs of messages, one log per key.
type WriteLog interface {
	fmt.Stringer
	Append(key string, msg LogMessage) error
	CloseLog(key string) error
	Close() error
}

// ReadLog reads back the messages of logs.
type ReadLog interface {
	// ReadAll returns every message appended to the log in order, or nil if there is no
	// log for the key.
	ReadAll(key string) ([]LogMessage, error)
}

// Log is a readable set of append-only logs.
type Log interface {
	WriteLog
	ReadLog
}
