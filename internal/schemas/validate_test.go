package schemas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embedded "github.com/jonathan/job-applier/schemas"
)

const personSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "age"],
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	}
}`

const sampleConfig = `{
	"credentials": {"email": "someone@example.com", "password": "secret"},
	"search": {"keywords": ["backend engineer"], "location": "remote", "pages_per_keyword": 3},
	"filter": {"min_job_score": 70, "excluded_companies": ["Acme"], "fail_open": true},
	"max_applications_per_session": 5,
	"delays": {"rate_limit_floor": 0.5, "navigation": {"min": 2, "max": 4}},
	"chatbot": {"answers": {"notice period": "30 days"}, "facts": {"experience": "5"}, "max_duration": 30},
	"site": {
		"login_url": "https://jobs.example.com/login",
		"search_url": "https://jobs.example.com/{keyword}-jobs-{page}",
		"selectors": {"apply_control": ["#apply"], "card_fields": {"title": ["a.title"]}}
	},
	"report": {"dir": "reports", "s3": {"bucket": "run-reports", "prefix": "runs"}}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateJSON_ValidJSON(t *testing.T) {
	schemaPath := writeFile(t, "schema.json", personSchema)
	jsonPath := writeFile(t, "doc.json", `{"name": "Ada", "age": 36}`)

	err := ValidateJSON(schemaPath, jsonPath)
	assert.NoError(t, err)
}

func TestValidateJSON_InvalidJSON_MissingField(t *testing.T) {
	schemaPath := writeFile(t, "schema.json", personSchema)
	jsonPath := writeFile(t, "doc.json", `{"name": "Ada"}`)

	err := ValidateJSON(schemaPath, jsonPath)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestValidateJSON_InvalidJSON_WrongType(t *testing.T) {
	schemaPath := writeFile(t, "schema.json", personSchema)
	jsonPath := writeFile(t, "doc.json", `{"name": "Ada", "age": "thirty"}`)

	err := ValidateJSON(schemaPath, jsonPath)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	require.Len(t, validationErr.Errors, 1)
	assert.Equal(t, "age", validationErr.Errors[0].Field)
}

func TestValidateJSON_NonExistentSchema(t *testing.T) {
	jsonPath := writeFile(t, "doc.json", `{}`)

	err := ValidateJSON(filepath.Join(t.TempDir(), "nonexistent_schema.json"), jsonPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidateJSON_NonExistentJSON(t *testing.T) {
	schemaPath := writeFile(t, "schema.json", personSchema)

	err := ValidateJSON(schemaPath, filepath.Join(t.TempDir(), "nonexistent_json.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidateJSON_MalformedJSON(t *testing.T) {
	schemaPath := writeFile(t, "schema.json", personSchema)
	malformed := writeFile(t, "malformed.json", "{ invalid json }")

	err := ValidateJSON(schemaPath, malformed)
	require.Error(t, err)
	_, ok := err.(*SchemaLoadError)
	assert.True(t, ok, "malformed documents surface as load errors, got %T", err)
}

func TestValidateJSONString_Valid(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"name": "Ada", "age": 1}`)
	assert.NoError(t, err)
}

func TestValidateJSONString_Invalid(t *testing.T) {
	err := ValidateJSONString(personSchema, `{"age": -1}`)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Len(t, validationErr.Errors, 2)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "name", Message: "is required"},
			{Field: "age", Message: "must be a number"},
		},
	}

	errorMsg := err.Error()
	assert.Contains(t, errorMsg, "validation failed")
	assert.Contains(t, errorMsg, "1. name: is required")
	assert.Contains(t, errorMsg, "2. age: must be a number")
}

func TestValidateJSON_NestedFieldValidation(t *testing.T) {
	schemaContent := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["person"],
		"properties": {
			"person": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"}
				}
			}
		}
	}`

	err := ValidateJSONString(schemaContent, `{"person": {}}`)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	require.Len(t, validationErr.Errors, 1)
	assert.Equal(t, "person", validationErr.Errors[0].Field)
}

func TestValidateBytes_ConfigSchema(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{name: "sample config", doc: sampleConfig},
		{
			name:    "missing site",
			doc:     `{"search": {"keywords": ["go"]}}`,
			wantErr: true,
		},
		{
			name:    "empty keywords",
			doc:     `{"search": {"keywords": []}, "site": {"login_url": "https://x.example/login", "search_url": "https://x.example/{keyword}"}}`,
			wantErr: true,
		},
		{
			name:    "unknown top-level key",
			doc:     `{"search": {"keywords": ["go"]}, "site": {"login_url": "https://x.example/login", "search_url": "https://x.example/{keyword}"}, "verbose": true}`,
			wantErr: true,
		},
		{
			name:    "search url without keyword",
			doc:     `{"search": {"keywords": ["go"]}, "site": {"login_url": "https://x.example/login", "search_url": "https://x.example/jobs"}}`,
			wantErr: true,
		},
		{
			name:    "score out of range",
			doc:     `{"search": {"keywords": ["go"]}, "filter": {"min_job_score": 120}, "site": {"login_url": "https://x.example/login", "search_url": "https://x.example/{keyword}"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBytes(embedded.Config, []byte(tt.doc))
			if tt.wantErr {
				require.Error(t, err)
				_, ok := err.(*ValidationError)
				assert.True(t, ok, "expected *ValidationError, got %T: %v", err, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFile_EmbeddedSchema(t *testing.T) {
	path := writeFile(t, "config.json", sampleConfig)
	assert.NoError(t, ValidateFile(embedded.Config, path))
}

func TestValidateFile_UnknownSchema(t *testing.T) {
	path := writeFile(t, "config.json", sampleConfig)
	err := ValidateFile("nope.schema.json", path)
	require.Error(t, err)
	_, ok := err.(*SchemaLoadError)
	assert.True(t, ok)
}
