// Package filelog provides append-only logs of messages in a directory, one file per log.
// Each message is a little-endian uint16 entry type and uint32 size followed by the data.
package filelog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"
)

const headerSize = 6

type fileLog struct {
	*os.File
	sync.Mutex
}

func (f *fileLog) writeHeader(msg storage.LogMessage) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[:2], msg.EntryType)
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(msg.Data)))
	_, err := f.Write(buf)
	return err
}

func readAll(r io.Reader) ([]storage.LogMessage, error) {
	var msgs []storage.LogMessage
	hdrbuf := make([]byte, headerSize)
	for {
		_, err := io.ReadFull(r, hdrbuf)
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return nil, err
		}
		entryType := binary.LittleEndian.Uint16(hdrbuf[0:2])
		size := binary.LittleEndian.Uint32(hdrbuf[2:])
		databuf := make([]byte, size)
		if _, err = io.ReadFull(r, databuf); err != nil {
			return nil, fmt.Errorf("truncated log message of %d bytes: %v", size, err)
		}
		msgs = append(msgs, storage.LogMessage{EntryType: entryType, Data: databuf})
	}
}

// Logs is a storage.Log with one file per key in a directory.
type Logs struct {
	path string

	sync.RWMutex
	files map[string]*fileLog // open write logs by key
}

var _ storage.Log = (*Logs)(nil)

// Open returns the file-based logs in a directory, creating the directory if it doesn't
// already exist.
func Open(path string) (*Logs, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		dvid.Infof("Log not already at path (%s). Creating ...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
	} else {
		dvid.Infof("Found log at %s\n", path)
	}
	return &Logs{
		path:  path,
		files: make(map[string]*fileLog),
	}, nil
}

func (flogs *Logs) String() string {
	return fmt.Sprintf("write logs @ %s", flogs.path)
}

func (flogs *Logs) filename(key string) string {
	return filepath.Join(flogs.path, key)
}

func (flogs *Logs) getWriteLog(key string) (*fileLog, error) {
	flogs.RLock()
	fl, found := flogs.files[key]
	flogs.RUnlock()
	if found {
		return fl, nil
	}
	flogs.Lock()
	defer flogs.Unlock()
	if fl, found = flogs.files[key]; found {
		return fl, nil
	}
	f, err := os.OpenFile(flogs.filename(key), os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_SYNC, 0644)
	if err != nil {
		return nil, err
	}
	fl = &fileLog{File: f}
	flogs.files[key] = fl
	return fl, nil
}

// Append writes a message to the end of the log for a key.
func (flogs *Logs) Append(key string, msg storage.LogMessage) error {
	fl, err := flogs.getWriteLog(key)
	if err != nil {
		return fmt.Errorf("append log %q: %v", flogs, err)
	}
	fl.Lock()
	defer fl.Unlock()
	if err = fl.writeHeader(msg); err != nil {
		return fmt.Errorf("bad write of log header to %q: %v", key, err)
	}
	if _, err = fl.Write(msg.Data); err != nil {
		return fmt.Errorf("append log %q: %v", flogs, err)
	}
	return nil
}

// ReadAll returns the messages of the log for a key.  Appends to the same log wait until
// the read is done.
func (flogs *Logs) ReadAll(key string) ([]storage.LogMessage, error) {
	flogs.RLock()
	fl, found := flogs.files[key]
	flogs.RUnlock()
	if found {
		fl.Lock()
		defer fl.Unlock()
	}
	f, err := os.Open(flogs.filename(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return readAll(f)
}

// CloseLog closes the file of a key's log if it is open.
func (flogs *Logs) CloseLog(key string) error {
	flogs.Lock()
	fl, found := flogs.files[key]
	delete(flogs.files, key)
	flogs.Unlock()
	if !found {
		return nil
	}
	fl.Lock()
	defer fl.Unlock()
	return fl.Close()
}

// Close closes every open log file.
func (flogs *Logs) Close() error {
	flogs.Lock()
	defer flogs.Unlock()
	var firstErr error
	for key, fl := range flogs.files {
		if err := fl.Close(); err != nil {
			dvid.Errorf("closing log file %q: %v\n", fl.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(flogs.files, key)
	}
	return firstErr
}
