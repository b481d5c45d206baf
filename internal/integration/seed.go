package integration

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"remindcore/internal/reminder"
)

// seedFile is the on-disk shape of an entity list:
//
//	entities:
//	  - kind: habit
//	    id: run
//	    title: Morning run
//	    anchor: "2024-06-01 08:00"
//	    recurrence: weekly:mon,wed,fri
//	    reminders: [15m, 1h]
type seedFile struct {
	Entities []seedEntity `yaml:"entities"`
}

type seedEntity struct {
	Kind       string   `yaml:"kind"`
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title"`
	Body       string   `yaml:"body"`
	Anchor     string   `yaml:"anchor"`
	Recurrence string   `yaml:"recurrence"`
	Enabled    *bool    `yaml:"reminders_enabled"`
	Reminders  []string `yaml:"reminders"`
	Disabled   []string `yaml:"disabled_reminders"`
}

var anchorLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseAnchor accepts RFC 3339, or a local wall-clock date/time interpreted in loc.
func ParseAnchor(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range anchorLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: anchor %q", reminder.ErrInvalidConfig, raw)
}

// LoadEntities decodes a YAML entity list. Anchors without a zone are read in loc.
func LoadEntities(r io.Reader, loc *time.Location) ([]Entity, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	out := make([]Entity, 0, len(f.Entities))
	for i, se := range f.Entities {
		e, err := se.entity(loc)
		if err != nil {
			return nil, fmt.Errorf("entity %d (%s): %w", i, se.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (se seedEntity) entity(loc *time.Location) (Entity, error) {
	kind, err := reminder.ParseEntityKind(se.Kind)
	if err != nil {
		return Entity{}, err
	}
	anchor, err := ParseAnchor(se.Anchor, loc)
	if err != nil {
		return Entity{}, err
	}
	rec := reminder.NoRecurrence()
	if strings.TrimSpace(se.Recurrence) != "" {
		if rec, err = reminder.ParseRecurrence(se.Recurrence); err != nil {
			return Entity{}, err
		}
	}
	e := Entity{
		Kind:             kind,
		ID:               strings.TrimSpace(se.ID),
		Title:            se.Title,
		Body:             se.Body,
		Anchor:           anchor,
		Recurrence:       rec,
		RemindersEnabled: se.Enabled == nil || *se.Enabled,
	}
	if e.Title == "" {
		e.Title = e.ID
	}
	for _, group := range []struct {
		raw     []string
		enabled bool
	}{{se.Reminders, true}, {se.Disabled, false}} {
		for _, raw := range group.raw {
			off, err := reminder.ParseOffset(raw)
			if err != nil {
				return Entity{}, err
			}
			e.Reminders = append(e.Reminders, Setting{Offset: off, Enabled: group.enabled})
		}
	}
	return e, nil
}
