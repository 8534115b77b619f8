// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
)

// schemaCache holds compiled request schemas keyed by request type.
var schemaCache sync.Map

// requestSchema reflects a JSON Schema from the request struct v points to.
func requestSchema(v any) ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("type", reflect.TypeOf(v).String()).Wrap(err)
	}
	return data, nil
}

func compiledSchema(v any) (*jschema.Schema, error) {
	t := reflect.TypeOf(v)
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*jschema.Schema), nil //nolint:forcetypeassert // cache only stores *jschema.Schema
	}

	data, err := requestSchema(v)
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}

	url := "mem://requests/" + t.Elem().Name() + ".json"
	c := jschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.String()).Wrap(err)
	}

	actual, _ := schemaCache.LoadOrStore(t, sch)
	return actual.(*jschema.Schema), nil //nolint:forcetypeassert // cache only stores *jschema.Schema
}

// decode reads the request body, validates it against dst's schema and
// unmarshals it into dst. Failures wrap account.ErrValidation.
func decode(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalid("request body must be at most %d bytes", maxBytes)
		}
		return oops.Code("REQUEST_READ_FAILED").Wrap(err)
	}

	instance, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return invalid("request body must be a JSON object")
	}

	sch, err := compiledSchema(dst)
	if err != nil {
		return err
	}
	if err := sch.Validate(instance); err != nil {
		return invalid("%s", formatSchemaError(err))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return invalid("request body does not match the expected shape")
	}
	return nil
}

// formatSchemaError flattens a validation error into a single line.
func formatSchemaError(err error) string {
	var ve *jschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	lines := strings.Split(strings.TrimSpace(ve.Error()), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(strings.TrimSpace(line), "- ")
	}
	return strings.Join(lines, "; ")
}

func invalid(format string, args ...any) error {
	return oops.Code(account.CodeValidation).Wrapf(account.ErrValidation, format, args...)
}

// confirmMatches checks that a password and its confirmation agree.
func confirmMatches(password, confirm string) error {
	if password != confirm {
		return oops.Code(account.CodeValidation).
			With("field", "confirm_password").
			Wrapf(account.ErrValidation, "passwords do not match")
	}
	return nil
}
