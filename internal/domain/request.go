package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Algorithm string

const (
	AES256CBC Algorithm = "AES-256-CBC"
	AES128CBC Algorithm = "AES-128-CBC"
	AES256GCM Algorithm = "AES-256-GCM"
	AES128GCM Algorithm = "AES-128-GCM"

	DefaultAlgorithm = AES256CBC
)

type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatText  OutputFormat = "text"
	FormatTable OutputFormat = "table"
)

// Structured reports whether the artifact is parsed back into JSON for
// inline retrieval.
func (f OutputFormat) Structured() bool { return f == FormatJSON }

// Ext is the artifact file extension for the format.
func (f OutputFormat) Ext() string {
	if f.Structured() {
		return ".json"
	}
	return ".txt"
}

const (
	DefaultField      = "message"
	DefaultSearchSize = 100
	MaxSearchSize     = 10000
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FileDecryptRequest holds the form fields sent along with an uploaded log file.
type FileDecryptRequest struct {
	EncryptionKey string       `json:"encryptionKey"`
	Algorithm     Algorithm    `json:"algorithm"    validate:"oneof=AES-256-CBC AES-128-CBC AES-256-GCM AES-128-GCM"`
	Field         string       `json:"field"        validate:"required"`
	OutputFormat  OutputFormat `json:"outputFormat" validate:"oneof=json text table"`
}

// Normalize applies defaults and validates the request.
func (r *FileDecryptRequest) Normalize() error {
	if r.Algorithm == "" {
		r.Algorithm = DefaultAlgorithm
	}
	r.Field = strings.TrimSpace(r.Field)
	if r.Field == "" {
		r.Field = DefaultField
	}
	if r.OutputFormat == "" {
		r.OutputFormat = FormatJSON
	}

	return validationError(validate.Struct(r))
}

// SearchDecryptRequest asks for logs fetched from a remote search index.
type SearchDecryptRequest struct {
	ElasticsearchURL string          `json:"elasticsearchUrl" validate:"required,url"`
	Index            string          `json:"index"            validate:"required"`
	EncryptionKey    string          `json:"encryptionKey"`
	Algorithm        Algorithm       `json:"algorithm"        validate:"oneof=AES-256-CBC AES-128-CBC AES-256-GCM AES-128-GCM"`
	Field            string          `json:"field"            validate:"required"`
	Query            json.RawMessage `json:"query,omitempty"`
	Size             int             `json:"size"             validate:"min=1,max=10000"`
	Username         string          `json:"username,omitempty"`
	Password         string          `json:"password,omitempty"`
	APIKey           string          `json:"apiKey,omitempty"`
	OutputFormat     OutputFormat    `json:"outputFormat"     validate:"oneof=json text"`
}

func (r *SearchDecryptRequest) Normalize() error {
	r.ElasticsearchURL = strings.TrimSpace(r.ElasticsearchURL)
	r.Index = strings.TrimSpace(r.Index)
	if r.Algorithm == "" {
		r.Algorithm = DefaultAlgorithm
	}
	r.Field = strings.TrimSpace(r.Field)
	if r.Field == "" {
		r.Field = DefaultField
	}
	if r.Size == 0 {
		r.Size = DefaultSearchSize
	}
	if r.OutputFormat == "" {
		r.OutputFormat = FormatJSON
	}

	if err := validationError(validate.Struct(r)); err != nil {
		return err
	}

	q := bytes.TrimSpace(r.Query)
	if len(q) == 0 || bytes.Equal(q, []byte("null")) {
		r.Query = nil
		return nil
	}
	if q[0] != '{' || !json.Valid(q) {
		return NewValidationError(`"query" must be an object`)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, q); err != nil {
		return NewValidationError(`"query" must be an object`)
	}
	r.Query = buf.Bytes()

	return nil
}

func validationError(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Msg: err.Error()}
	}

	fe := verrs[0]
	name := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return NewValidationError("%q is required", name)
	case "oneof":
		return NewValidationError("%q must be one of [%s]", name, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return NewValidationError("%q must be a valid uri", name)
	case "min":
		return NewValidationError("%q must be greater than or equal to %s", name, fe.Param())
	case "max":
		return NewValidationError("%q must be less than or equal to %s", name, fe.Param())
	default:
		return NewValidationError("%q is invalid", name)
	}
}

func jsonName(field string) string {
	switch field {
	case "ElasticsearchURL":
		return "elasticsearchUrl"
	case "APIKey":
		return "apiKey"
	case "":
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
