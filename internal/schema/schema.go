// Package schema checks the shape of authored policy documents before they are decoded.
package schema

import (
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/filipexyz/authpolicy/internal/domain"
)

var (
	//go:embed draft.schema.json
	draftJSON []byte
	//go:embed changes.schema.json
	changesJSON []byte

	draftSchema   = mustCompile("draft", draftJSON)
	changesSchema = mustCompile("changes", changesJSON)
)

func mustCompile(name string, data []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return s
}

// ValidateDraft checks a create-policy document.
func ValidateDraft(doc []byte) error {
	return validate(draftSchema, gojsonschema.NewBytesLoader(doc))
}

// ValidateCommit checks a commit document ({"version": n, "changes": {...}}).
func ValidateCommit(doc []byte) error {
	return validate(changesSchema, gojsonschema.NewBytesLoader(doc))
}

// ValidateDraftValue checks an already decoded document, e.g. one read from YAML.
func ValidateDraftValue(v any) error {
	return validate(draftSchema, gojsonschema.NewGoLoader(v))
}

func validate(s *gojsonschema.Schema, doc gojsonschema.JSONLoader) error {
	res, err := s.Validate(doc)
	if err != nil {
		return domain.NewValidationError("", "malformed document: %v", err)
	}
	if res.Valid() {
		return nil
	}
	ve := &domain.ValidationError{}
	for _, e := range res.Errors() {
		field := e.Field()
		if field == "(root)" {
			field = ""
		}
		ve.Add(field, "%s", e.Description())
	}
	return ve
}
