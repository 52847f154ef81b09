package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/janelia-flyem/labelset/storage"
)

const jsonMsgTypeID uint16 = 1

// MutationsConfig is the [mutations] section.  When Jsonstore is set, every processed
// mutation is appended as a JSON record to a log in that directory, one log per timepoint
// and setup.
type MutationsConfig struct {
	Jsonstore string `toml:"jsonstore"`
}

// mutationRecord is a logged mutation.
type mutationRecord struct {
	MutID   uint64        `json:"mutid"`
	Boxes   []mutationBox `json:"boxes"`
	User    string        `json:"user,omitempty"`
	Time    time.Time     `json:"time"`
	Elapsed float64       `json:"elapsed"` // seconds to recompute the pyramid
}

func mutationLogKey(t, setup int) string {
	return fmt.Sprintf("mutations-%d-%d.log", t, setup)
}

// logMutation appends a record to the mutation log if one is configured.
func (s *Service) logMutation(t, setup int, rec mutationRecord) error {
	if s.mutlog == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.mutlog.Append(mutationLogKey(t, setup), storage.LogMessage{EntryType: jsonMsgTypeID, Data: data})
}

// mutationRecords returns every logged mutation of a timepoint and setup.
func (s *Service) mutationRecords(t, setup int) ([]mutationRecord, error) {
	if s.mutlog == nil {
		return nil, fmt.Errorf("no mutation log configured")
	}
	msgs, err := s.mutlog.ReadAll(mutationLogKey(t, setup))
	if err != nil {
		return nil, err
	}
	records := make([]mutationRecord, 0, len(msgs))
	for i, msg := range msgs {
		if msg.EntryType != jsonMsgTypeID {
			continue
		}
		var rec mutationRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			return nil, fmt.Errorf("bad mutation record %d: %v", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
