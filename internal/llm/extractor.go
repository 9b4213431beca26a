// Package llm - extractor.go provides generic LLM-based structured extraction.
package llm

import (
	"fmt"
	"strings"
)

// ExtractionSchema defines the structure for LLM-based content extraction.
// It provides a reusable way to define what information to extract from text.
type ExtractionSchema struct {
	Name        string        // Schema name (e.g., "JobScore")
	Description string        // System prompt preamble describing the extraction task
	Fields      []SchemaField // Expected output fields
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "string", "[]string", "map[string]string"
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// BuildExtractionPrompt constructs the LLM prompt from schema and input text.
func BuildExtractionPrompt(schema ExtractionSchema, inputText string) string {
	var sb strings.Builder

	// System description
	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	// Output schema
	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "string"
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	// Instructions
	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Base every field on the input text only, do not invent facts.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	// Input text
	sb.WriteString("Input text:\n\"\"\"\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// --- Predefined Schemas ---

// JobScoreSchema returns the output schema for rating a listing against a candidate.
// description carries the task preamble, including the candidate profile.
func JobScoreSchema(description string) ExtractionSchema {
	return ExtractionSchema{
		Name:        "JobScore",
		Description: description,
		Fields: []SchemaField{
			{Name: "total_score", Type: "integer 0-100", Description: "Overall fit", Required: true},
			{Name: "technology_score", Type: "integer 0-30", Description: "Tech stack overlap"},
			{Name: "experience_score", Type: "integer 0-25", Description: "Seniority alignment"},
			{Name: "company_score", Type: "integer 0-20", Description: "Company fit"},
			{Name: "role_score", Type: "integer 0-25", Description: "Relevance to the target role"},
			{Name: "match_level", Type: "\"excellent|good|fair|poor\""},
			{Name: "reasoning", Type: "\"string\"", Description: "One or two sentences", Required: true},
			{Name: "key_matches", Type: "[\"string\"]"},
			{Name: "concerns", Type: "[\"string\"]"},
			{Name: "application_recommendation", Type: "\"apply|consider|avoid\""},
		},
	}
}

// ScreeningAnswerSchema returns the output schema for answering one screening question.
func ScreeningAnswerSchema(description string) ExtractionSchema {
	return ExtractionSchema{
		Name:        "ScreeningAnswer",
		Description: description,
		Fields: []SchemaField{
			{Name: "answer", Type: "\"string\"", Description: "The exact text to submit", Required: true},
			{Name: "confidence", Type: "\"high|medium|low\""},
		},
	}
}
