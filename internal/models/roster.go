package models

// RosterEntry is an id and display name pair read from the school roster.
type RosterEntry struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// RosterNames resolves display names for the ids referenced by a timetable.
type RosterNames struct {
	Classes  map[string]string `json:"classes"`
	Subjects map[string]string `json:"subjects"`
	Teachers map[string]string `json:"teachers"`
}

// ClassName returns the display name of a class, or the id when unknown.
func (n *RosterNames) ClassName(id string) string {
	if n == nil {
		return id
	}
	return nameOr(n.Classes, id)
}

// SubjectName returns the display name of a subject, or the id when unknown.
func (n *RosterNames) SubjectName(id string) string {
	if n == nil {
		return id
	}
	return nameOr(n.Subjects, id)
}

// TeacherName returns the display name of a teacher, or the id when unknown.
func (n *RosterNames) TeacherName(id string) string {
	if n == nil {
		return id
	}
	return nameOr(n.Teachers, id)
}

func nameOr(names map[string]string, id string) string {
	if name := names[id]; name != "" {
		return name
	}
	return id
}
