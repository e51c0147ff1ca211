package model

import "time"

// Answer is a patient's reply to one question.  QuestionText captures the
// wording at submission time so later edits to the form do not rewrite
// history.
type Answer struct {
	QuestionID   string `json:"questionId"`
	QuestionText string `json:"questionText"`
	AnswerText   string `json:"answerText"`
}

// Response is a patient's single, immutable submission for a form.
//
// Fields:
//
//	ID          – opaque unique identifier.
//	FormID      – form the response belongs to.
//	FormTitle   – form title at submission time.
//	PatientID   – submitting patient.
//	Answers     – answers in submitted order.
//	SubmittedAt – submission timestamp.
type Response struct {
	ID          string    `json:"id"`
	FormID      string    `json:"formId"`
	FormTitle   string    `json:"formTitle"`
	PatientID   string    `json:"patientId"`
	Answers     []Answer  `json:"answers"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Answers = append([]Answer{}, r.Answers...)
	return &cp
}
