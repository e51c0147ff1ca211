package model

import (
	"sort"
	"time"
)

// Question is one prompt of a form.  ID is supplied by the client and is
// unique within its form; Order drives display order but is neither
// unique nor contiguous.
type Question struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// Form is an ordered set of questions authored by a psychologist and
// assigned to zero or more patients.
//
// Fields:
//
//	ID               – opaque unique identifier.
//	Title            – required title.
//	Description      – optional free text.
//	Questions        – questions sorted by Order.
//	OwnerID          – id of the creating psychologist; immutable.
//	AssignedPatients – ids of patients allowed to view and answer the form.
//	CreatedAt        – creation timestamp.
//	UpdatedAt        – bumped on every mutation.
type Form struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Questions        []Question `json:"questions"`
	OwnerID          string     `json:"createdBy"`
	AssignedPatients []string   `json:"assignedPatients"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsAssigned reports whether patientID is a member of the assignment set.
func (f *Form) IsAssigned(patientID string) bool {
	for _, id := range f.AssignedPatients {
		if id == patientID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never hand out shared slices.
func (f *Form) Clone() *Form {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Questions = append([]Question{}, f.Questions...)
	cp.AssignedPatients = append([]string{}, f.AssignedPatients...)
	return &cp
}

// SortQuestions orders questions by Order, keeping the submitted order for
// equal values.
func SortQuestions(qs []Question) []Question {
	out := append([]Question{}, qs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// UniqueIDs drops empty and repeated ids while keeping first-seen order.
func UniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
