package model

import "time"

// PayloadType distinguishes the payload shapes a publisher may send.
type PayloadType string

const (
	PayloadDocument PayloadType = "document"
	PayloadForm     PayloadType = "form"
)

// Document is a generic JSON object payload.
type Document map[string]interface{}

// Form is a structured data form payload.
type Form struct {
	Type   string      `json:"type,omitempty" bson:"type,omitempty"` // form, submit, result
	Title  string      `json:"title,omitempty" bson:"title,omitempty"`
	Fields []FormField `json:"fields,omitempty" bson:"fields,omitempty"`
}

// FormField is one field of a Form.
type FormField struct {
	Var    string   `json:"var" bson:"var"`
	Type   string   `json:"type,omitempty" bson:"type,omitempty"`
	Label  string   `json:"label,omitempty" bson:"label,omitempty"`
	Values []string `json:"values,omitempty" bson:"values,omitempty"`
}

// Payload is opaque to the engine; it is stored and forwarded as-is.
type Payload struct {
	Type     PayloadType `json:"type" bson:"type"`
	Document Document    `json:"document,omitempty" bson:"document,omitempty"`
	Form     *Form       `json:"form,omitempty" bson:"form,omitempty"`
}

// DocumentPayload wraps doc as a Payload.
func DocumentPayload(doc Document) Payload {
	return Payload{Type: PayloadDocument, Document: doc}
}

// FormPayload wraps form as a Payload.
func FormPayload(form Form) Payload {
	return Payload{Type: PayloadForm, Form: &form}
}

// Valid reports whether the payload carries content matching its type.
func (p Payload) Valid() bool {
	switch p.Type {
	case PayloadDocument:
		return p.Form == nil
	case PayloadForm:
		return p.Form != nil
	default:
		return false
	}
}

// Item is a unit of published content.
type Item struct {
	ID          string    `json:"id" bson:"item_id"`
	Node        string    `json:"node" bson:"node"`
	Seq         uint64    `json:"seq" bson:"seq"`
	Publisher   string    `json:"publisher" bson:"publisher"`
	PublishedAt time.Time `json:"publishedAt" bson:"published_at"`
	Payload     Payload   `json:"payload" bson:"payload"`
}
