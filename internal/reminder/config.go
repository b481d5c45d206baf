package reminder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Content is the denormalized title/body captured when a reminder is scheduled.
// Later edits to the entity only reach the alert through an explicit re-upsert.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// Key identifies the at-most-one Pending reminder slot.
type Key struct {
	Kind     EntityKind `json:"kind"`
	EntityID string     `json:"entity_id"`
	Offset   Offset     `json:"offset"`
}

func (k Key) String() string {
	return k.Kind.String() + "/" + k.EntityID + "/" + k.Offset.String()
}

// Entity returns the (kind, id) prefix of the key.
func (k Key) Entity() EntityRef { return EntityRef{Kind: k.Kind, ID: k.EntityID} }

// EntityRef names an entity without any reminder detail.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (e EntityRef) String() string { return e.Kind.String() + "/" + e.ID }

// Config describes what to remind about and when, relative to one entity.
type Config struct {
	Kind       EntityKind `json:"kind"`
	EntityID   string     `json:"entity_id"`
	Anchor     time.Time  `json:"anchor"`
	Offset     Offset     `json:"offset"`
	Recurrence Recurrence `json:"recurrence"`
	Enabled    bool       `json:"enabled"`
	Content    Content    `json:"content"`
}

type configAlias Config

// configJSON carries the anchor's IANA zone next to the RFC 3339 anchor, which
// on its own only keeps a fixed UTC offset.
type configJSON struct {
	configAlias
	Zone string `json:"zone,omitempty"`
}

func (c Config) MarshalJSON() ([]byte, error) {
	v := configJSON{configAlias: configAlias(c)}
	if !c.Anchor.IsZero() {
		v.Zone = c.Anchor.Location().String()
	}
	return json.Marshal(v)
}

// UnmarshalJSON restores the anchor in its named zone. An unknown zone keeps
// the decoded fixed offset; the instant is the same either way.
func (c *Config) UnmarshalJSON(b []byte) error {
	var v configJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = Config(v.configAlias)
	if v.Zone == "" || c.Anchor.IsZero() {
		return nil
	}
	if loc, err := time.LoadLocation(v.Zone); err == nil {
		c.Anchor = c.Anchor.In(loc)
	}
	return nil
}

// NewConfig builds and validates an enabled config.
func NewConfig(kind EntityKind, entityID string, anchor time.Time, offset Offset, rec Recurrence, content Content) (Config, error) {
	c := Config{
		Kind:       kind,
		EntityID:   strings.TrimSpace(entityID),
		Anchor:     anchor,
		Offset:     offset,
		Recurrence: rec,
		Enabled:    true,
		Content:    content,
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Key() Key {
	return Key{Kind: c.Kind, EntityID: c.EntityID, Offset: c.Offset}
}

func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: invalid entity kind %d", ErrInvalidConfig, int(c.Kind))
	}
	if c.EntityID == "" {
		return fmt.Errorf("%w: entity id required", ErrInvalidConfig)
	}
	if c.Anchor.IsZero() {
		return fmt.Errorf("%w: anchor instant required", ErrInvalidConfig)
	}
	if err := c.Offset.Validate(); err != nil {
		return err
	}
	if err := c.Recurrence.Validate(); err != nil {
		return err
	}
	if c.Recurrence.IsRecurring() && c.Kind != KindHabit {
		return fmt.Errorf("%w: recurrence is only supported for habits", ErrInvalidConfig)
	}
	return nil
}
