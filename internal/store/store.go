// Package store persists action logs as JSON record arrays.
//
// The store is single-slot: saving a new recording replaces the previous one.
// Loading is resilient. A record that is missing a field its type requires is
// skipped with a warning, while an unreadable file or a document that is not a
// JSON array fails the whole load.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"recplay/internal/action"
	"recplay/internal/errkind"
	"recplay/internal/keycodec"
)

// record is the persisted form of one action. Pointers distinguish absent
// fields from zero values.
type record struct {
	Type      string   `json:"type"`
	Position  []int    `json:"position,omitempty"`
	Button    *string  `json:"button,omitempty"`
	Pressed   *bool    `json:"pressed,omitempty"`
	Key       *string  `json:"key,omitempty"`
	Timestamp *float64 `json:"timestamp"`
}

// Skipped describes a record that was dropped while loading.
type Skipped struct {
	Index  int
	Reason error
}

// Store reads and writes the persisted action log at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// New creates a store for the log file at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger.With("component", "store")}
}

// Path returns the log file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a recording has been persisted.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes l atomically, replacing any previous recording. The log must
// be frozen.
func (s *Store) Save(l *action.Log) error {
	if !l.Frozen() {
		return errkind.ErrPersistence.WithMessage("refusing to persist a log that is still being recorded")
	}

	data, err := Marshal(l.Actions())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errkind.ErrPersistence.WithMessagef("create directory: %v", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errkind.ErrPersistence.WithMessagef("write temp file: %v", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errkind.ErrPersistence.WithMessagef("rename temp file: %v", err)
	}

	s.logger.Info("Recording saved", "path", s.path, "actions", l.Len(), "duration", l.Duration())
	return nil
}

// Load reads the persisted recording as a new frozen log.
func (s *Store) Load() (*action.Log, []Skipped, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, errkind.ErrNoRecording.WithMessagef("no recording at %s", s.path)
	}
	if err != nil {
		return nil, nil, errkind.ErrPersistence.WithMessagef("read %s: %v", s.path, err)
	}

	actions, skipped, err := Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}
	for _, sk := range skipped {
		s.logger.Warn("Skipping malformed record", "index", sk.Index, "error", sk.Reason)
	}
	s.logger.Debug("Recording loaded", "path", s.path, "actions", len(actions), "skipped", len(skipped))
	return action.NewFrozenLog(actions), skipped, nil
}

// Marshal encodes actions as an indented JSON record array.
func Marshal(actions []action.Action) ([]byte, error) {
	records := make([]record, 0, len(actions))
	for _, a := range actions {
		records = append(records, toRecord(a))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, errkind.ErrPersistence.WithMessagef("marshal log: %v", err)
	}
	return data, nil
}

// Decode reads a record array from r.
func Decode(r io.Reader) ([]action.Action, []Skipped, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errkind.ErrPersistence.WithMessagef("read log: %v", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a record array. Malformed records, including records
// whose timestamp runs backwards, are returned in the skipped list.
func Unmarshal(data []byte) ([]action.Action, []Skipped, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, errkind.ErrPersistence.WithMessagef("log is not a JSON record array: %v", err)
	}

	actions := make([]action.Action, 0, len(raw))
	var skipped []Skipped
	prev := 0.0
	for i, msg := range raw {
		var rec record
		if err := json.Unmarshal(msg, &rec); err != nil {
			skipped = append(skipped, Skipped{Index: i, Reason: errkind.ErrMalformedRecord.WithMessage(err.Error())})
			continue
		}
		a, err := fromRecord(rec)
		if err == nil && a.Timestamp < prev {
			err = errkind.ErrMalformedRecord.WithMessagef("timestamp %v precedes %v", a.Timestamp, prev)
		}
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, Reason: err})
			continue
		}
		prev = a.Timestamp
		actions = append(actions, a)
	}
	return actions, skipped, nil
}

func toRecord(a action.Action) record {
	ts := a.Timestamp
	rec := record{Type: string(a.Kind), Timestamp: &ts}
	switch a.Kind {
	case action.KindMove:
		rec.Position = []int{a.Position.X, a.Position.Y}
	case action.KindClick:
		button := string(a.Button)
		pressed := a.Pressed
		rec.Position = []int{a.Position.X, a.Position.Y}
		rec.Button = &button
		rec.Pressed = &pressed
	case action.KindKey:
		key := a.Key.String()
		rec.Key = &key
	}
	return rec
}

func fromRecord(rec record) (action.Action, error) {
	if rec.Timestamp == nil {
		return action.Action{}, missing(rec.Type, "timestamp")
	}
	if *rec.Timestamp < 0 {
		return action.Action{}, errkind.ErrMalformedRecord.WithMessagef("negative timestamp %v", *rec.Timestamp)
	}
	ts := *rec.Timestamp

	switch action.Kind(rec.Type) {
	case action.KindMove:
		if err := checkPosition(rec); err != nil {
			return action.Action{}, err
		}
		return action.Move(rec.Position[0], rec.Position[1], ts), nil

	case action.KindClick:
		if err := checkPosition(rec); err != nil {
			return action.Action{}, err
		}
		switch {
		case rec.Button == nil:
			return action.Action{}, missing(rec.Type, "button")
		case rec.Pressed == nil:
			return action.Action{}, missing(rec.Type, "pressed")
		}
		button, ok := action.ParseButton(*rec.Button)
		if !ok {
			return action.Action{}, errkind.ErrMalformedRecord.WithMessagef("unknown button %q", *rec.Button)
		}
		return action.Click(rec.Position[0], rec.Position[1], button, *rec.Pressed, ts), nil

	case action.KindKey:
		if rec.Key == nil {
			return action.Action{}, missing(rec.Type, "key")
		}
		// Unknown key names are kept; replay skips them with a warning.
		return action.KeyPress(keycodec.Parse(*rec.Key), ts), nil
	}
	return action.Action{}, errkind.ErrMalformedRecord.WithMessagef("unknown record type %q", rec.Type)
}

func checkPosition(rec record) error {
	switch {
	case rec.Position == nil:
		return missing(rec.Type, "position")
	case len(rec.Position) != 2:
		return errkind.ErrMalformedRecord.WithMessagef("%s record position has %d coordinates, want 2", rec.Type, len(rec.Position))
	}
	return nil
}

func missing(kind, field string) error {
	return errkind.ErrMalformedRecord.WithMessage(fmt.Sprintf("%s record is missing %q", kind, field))
}
