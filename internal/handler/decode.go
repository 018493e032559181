package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps request bodies; every payload here is a few fields.
const maxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// decodeJSON reads r's body into dest and validates it. With optional set,
// an empty body or a well-formed JSON value that is not an object is
// accepted and leaves dest untouched.
func decodeJSON(r *http.Request, dest any, optional bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) > maxBodyBytes {
		return invalid("request body too large")
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		if optional {
			return nil
		}
		return invalid("request body is required")
	}
	if optional && body[0] != '{' && json.Valid(body) {
		return nil
	}

	if err := json.Unmarshal(body, dest); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return invalid(fmt.Sprintf("%s must be of type %s", typeErr.Field, typeName(typeErr.Type)))
		}
		return invalid("invalid JSON body")
	}
	if err := validate.Struct(dest); err != nil {
		return validationFailure(err)
	}
	return nil
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.String:
		return "string"
	}
	return t.Kind().String()
}

func validationFailure(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return invalid("validation failed")
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return invalid(fe.Field() + " is required")
	case "min":
		return invalid(fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
	case "max":
		return invalid(fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
	}
	return invalid(fe.Field() + " is invalid")
}

// looseString returns raw as a string if it holds a JSON string, else "".
func looseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
