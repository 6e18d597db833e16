package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inkth/jifou/pkg/domain"
)

type openAPIDoc struct {
	Paths      map[string]map[string]any `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// expectedRoutes mirrors the journal server's mux.
var expectedRoutes = map[string][]string{
	"/":                            {"get"},
	"/health":                      {"get"},
	"/healthz":                     {"get"},
	"/auth/send-otp":               {"post"},
	"/auth/login":                  {"post"},
	"/auth/logout":                 {"post"},
	"/auth/me":                     {"get", "patch"},
	"/records":                     {"get", "post"},
	"/reports/daily/{date}":        {"get"},
	"/reports/weekly/{start_date}": {"get"},
}

// domainSchemas maps schema names onto the Go types they document.
var domainSchemas = map[string]any{
	"User":         domain.User{},
	"Record":       domain.Record{},
	"DailyReport":  domain.DailyReport{},
	"WeeklyReport": domain.WeeklyReport{},
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if errs := check(doc); len(errs) > 0 {
		exitErr(errors.Join(errs...))
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(doc openAPIDoc) []error {
	var errs []error
	if s, err := getSchema(doc, "ErrorResponse"); err != nil {
		errs = append(errs, err)
	} else if err := validateErrorResponse(s); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validatePaths(doc)...)

	names := make([]string, 0, len(domainSchemas))
	for name := range domainSchemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := getSchema(doc, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := ensureSameFields(name, s, jsonFields(reflect.TypeOf(domainSchemas[name]))); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	return nil
}

func validatePaths(doc openAPIDoc) []error {
	var errs []error
	for path, methods := range expectedRoutes {
		ops, ok := doc.Paths[path]
		if !ok {
			errs = append(errs, fmt.Errorf("path %s missing", path))
			continue
		}
		for _, method := range methods {
			if _, ok := ops[method]; !ok {
				errs = append(errs, fmt.Errorf("path %s missing %s operation", path, strings.ToUpper(method)))
			}
		}
	}
	for path := range doc.Paths {
		if _, ok := expectedRoutes[path]; !ok {
			errs = append(errs, fmt.Errorf("path %s is documented but not served", path))
		}
	}
	return errs
}

// jsonFields lists the JSON keys encoding/json emits for t, flattening
// untagged embedded structs.
func jsonFields(t reflect.Type) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if f.Anonymous && tag == "" && f.Type.Kind() == reflect.Struct {
			out = append(out, jsonFields(f.Type)...)
			continue
		}
		if !f.IsExported() || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		out = append(out, name)
	}
	return out
}

func ensureSameFields(name string, s schema, fields []string) error {
	documented := make([]string, 0, len(s.Properties))
	for key := range s.Properties {
		documented = append(documented, key)
	}
	sort.Strings(documented)
	encoded := append([]string(nil), fields...)
	sort.Strings(encoded)
	if strings.Join(documented, ",") != strings.Join(encoded, ",") {
		return fmt.Errorf("%s properties mismatch: documented %v, encoded %v", name, documented, encoded)
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
