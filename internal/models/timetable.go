package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/timetable"
)

// DefaultSettingsID keys the singleton settings row.
const DefaultSettingsID = "default"

// SettingsPayload is the generation configuration stored as JSONB.
type SettingsPayload struct {
	TimeGrid        timetable.TimeGrid      `json:"timeGrid"`
	Requirements    []timetable.Requirement `json:"requirements"`
	SelectedClasses []string                `json:"selectedClasses"`
}

// Value marshals the payload to JSON for persistence.
func (p SettingsPayload) Value() (driver.Value, error) {
	if p.Requirements == nil {
		p.Requirements = []timetable.Requirement{}
	}
	if p.SelectedClasses == nil {
		p.SelectedClasses = []string{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal timetable settings: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the settings struct.
func (p *SettingsPayload) Scan(value interface{}) error {
	if value == nil {
		*p = SettingsPayload{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for SettingsPayload", value)
	}
	if len(data) == 0 {
		*p = SettingsPayload{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal timetable settings: %w", err)
	}
	return nil
}

// TimetableSettings is the persisted settings snapshot.
type TimetableSettings struct {
	ID        string          `db:"id" json:"id"`
	Payload   SettingsPayload `db:"payload" json:"payload"`
	UpdatedBy *string         `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ClassGrid is the stored schedule grid of one class.
type ClassGrid struct {
	ID          string          `json:"id"`
	ClassID     string          `json:"class_id"`
	Grid        *timetable.Grid `json:"grid"`
	GeneratedAt time.Time       `json:"generated_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
