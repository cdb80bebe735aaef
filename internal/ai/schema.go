package ai

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type Schema struct {
	Name        string
	Description string
	Definition  *jsonschema.Schema
}

func SchemaFor(name, description string, v interface{}) *Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	def := r.Reflect(v)
	def.Version = ""
	def.ID = ""
	return &Schema{Name: name, Description: description, Definition: def}
}

var AnswerSchema = SchemaFor("code_answer", "Answer about the repository with supporting citations", &model.Answer{})

type strictCitation struct {
	File      *string `json:"file"`
	StartLine *int    `json:"startLine"`
	EndLine   *int    `json:"endLine"`
	Snippet   *string `json:"snippet"`
}

type strictAnswer struct {
	Answer    *string           `json:"answer"`
	Citations *[]strictCitation `json:"citations"`
}

// DecodeAnswer accepts exactly one json object of the answer shape. Missing
// or unknown fields, surrounding prose and inverted line ranges are schema
// violations.
func DecodeAnswer(raw string) (*model.Answer, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	var out strictAnswer
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrSchemaViolation, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing content after answer object", appErr.ErrSchemaViolation)
	}
	if out.Answer == nil {
		return nil, fmt.Errorf("%w: missing answer", appErr.ErrSchemaViolation)
	}
	if out.Citations == nil {
		return nil, fmt.Errorf("%w: missing citations", appErr.ErrSchemaViolation)
	}
	answer := &model.Answer{Answer: *out.Answer, Citations: make([]model.Citation, 0, len(*out.Citations))}
	for i, c := range *out.Citations {
		if c.File == nil || c.StartLine == nil || c.EndLine == nil || c.Snippet == nil {
			return nil, fmt.Errorf("%w: citation %d is incomplete", appErr.ErrSchemaViolation, i)
		}
		if *c.File == "" || *c.StartLine < 0 || *c.EndLine < *c.StartLine {
			return nil, fmt.Errorf("%w: citation %d has an invalid location", appErr.ErrSchemaViolation, i)
		}
		answer.Citations = append(answer.Citations, model.Citation{
			File:      *c.File,
			StartLine: *c.StartLine,
			EndLine:   *c.EndLine,
			Snippet:   *c.Snippet,
		})
	}
	return answer, nil
}

func (s *Schema) JSON() ([]byte, error) {
	return json.Marshal(s.Definition)
}
