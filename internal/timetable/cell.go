package timetable

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CellKind tags the variant held by a Cell.
type CellKind uint8

const (
	CellEmpty CellKind = iota
	CellBreak
	CellSession
)

func (k CellKind) String() string {
	switch k {
	case CellBreak:
		return "break"
	case CellSession:
		return "session"
	default:
		return "empty"
	}
}

// Session is a placed lesson: one subject taught by one teacher.
type Session struct {
	SubjectID string `json:"subjectId"`
	TeacherID string `json:"teacherId,omitempty"`
}

// Cell is one (day, period) entry of a schedule grid. The zero value is an empty cell.
type Cell struct {
	kind    CellKind
	session Session
}

// EmptyCell returns a free cell.
func EmptyCell() Cell { return Cell{} }

// BreakCell returns a locked break cell.
func BreakCell() Cell { return Cell{kind: CellBreak} }

// SessionCell returns a cell occupied by s.
func SessionCell(s Session) Cell { return Cell{kind: CellSession, session: s} }

func (c Cell) Kind() CellKind { return c.kind }

func (c Cell) IsBreak() bool { return c.kind == CellBreak }

func (c Cell) IsEmpty() bool { return c.kind == CellEmpty }

// Session returns the placed session when the cell holds one.
func (c Cell) Session() (Session, bool) {
	if c.kind != CellSession {
		return Session{}, false
	}
	return c.session, true
}

type cellWire struct {
	Type      string `json:"type"`
	SubjectID string `json:"subjectId,omitempty"`
	TeacherID string `json:"teacherId,omitempty"`
}

// MarshalJSON encodes the cell as {"type": "break"|"empty"|"session", ...}.
func (c Cell) MarshalJSON() ([]byte, error) {
	wire := cellWire{Type: c.kind.String()}
	if c.kind == CellSession {
		wire.SubjectID = c.session.SubjectID
		wire.TeacherID = c.session.TeacherID
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the tagged representation produced by MarshalJSON.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var wire cellWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch strings.ToLower(wire.Type) {
	case "empty", "":
		*c = EmptyCell()
	case "break":
		*c = BreakCell()
	case "session":
		if strings.TrimSpace(wire.SubjectID) == "" {
			return fmt.Errorf("%w: session cell without subject", ErrInvalidInput)
		}
		*c = SessionCell(Session{SubjectID: wire.SubjectID, TeacherID: wire.TeacherID})
	default:
		return fmt.Errorf("%w: unknown cell type %q", ErrInvalidInput, wire.Type)
	}
	return nil
}
