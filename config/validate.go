package config

import (
	"fmt"
	"net"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// fieldInfo describes one config field for key-level validation: its
// dotted name and the shape its value must have.
type fieldInfo struct {
	name string
	typ  string
}

// knownFields builds the table of valid config keys by walking the yaml
// tags on configContents. Group names map to their field lists; the
// dotted form (Group.Field) is what validation reports.
func knownFields() map[string][]fieldInfo {
	table := make(map[string][]fieldInfo)
	ct := reflect.TypeOf(configContents{})
	for i := 0; i < ct.NumField(); i++ {
		group := ct.Field(i)
		groupName := yamlName(group)
		if groupName == "" {
			continue
		}
		table[groupName] = fieldsOf(group.Type, "")
	}
	return table
}

// fieldsOf lists the fields of a group struct, descending one level into
// nested structs like Reporter.Console; configs are never deeper than
// that.
func fieldsOf(t reflect.Type, prefix string) []fieldInfo {
	fields := make([]fieldInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := yamlName(f)
		if name == "" {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			fields = append(fields, fieldsOf(ft, prefix+name+".")...)
			continue
		}
		fields = append(fields, fieldInfo{name: prefix + name, typ: typeNameOf(ft)})
	}
	return fields
}

func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if tag == "" || tag == "-" {
		return ""
	}
	return strings.Split(tag, ",")[0]
}

func typeNameOf(t reflect.Type) string {
	switch t {
	case reflect.TypeOf(Duration(0)):
		return "duration"
	case reflect.TypeOf(UnknownLevel):
		return "level"
	case reflect.TypeOf(DefaultTrue(false)):
		return "bool"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int64, reflect.Uint64:
		return "int"
	case reflect.Bool:
		return "bool"
	default:
		return "string"
	}
}

// validateConfigKeys checks the raw config map for unknown or
// wrongly-typed keys before it is decoded into the struct, so that typos
// fail loudly instead of silently falling back to defaults. It returns a
// list of failures, empty if all keys are good.
func validateConfigKeys(data map[string]any) []string {
	failures := make([]string, 0)
	table := knownFields()

	groupNames := make([]string, 0, len(table))
	fieldNames := make([]string, 0)
	for g, fields := range table {
		groupNames = append(groupNames, g)
		for _, f := range fields {
			fieldNames = append(fieldNames, g+"."+f.name)
		}
	}

	for k := range data {
		if _, ok := table[k]; !ok {
			guesses := strings.Join(closestNamesTo(k, groupNames), " or ")
			failures = append(failures, fmt.Sprintf("unknown group %s; did you mean %s?", k, guesses))
		}
	}

	for k, v := range flatten(data) {
		group := strings.SplitN(k, ".", 2)[0]
		fields, ok := table[group]
		if !ok {
			continue // already reported as an unknown group
		}
		want := strings.TrimPrefix(k, group+".")
		var field *fieldInfo
		for i := range fields {
			if fields[i].name == want {
				field = &fields[i]
				break
			}
		}
		if field == nil {
			guesses := strings.Join(closestNamesTo(k, fieldNames), " or ")
			failures = append(failures, fmt.Sprintf("unknown field %s; did you mean %s?", k, guesses))
			continue
		}
		if failure := validateDatatype(k, v, field.typ); failure != "" {
			failures = append(failures, failure)
		}
	}

	sort.Strings(failures)
	return failures
}

// flatten converts nested maps into a single map with dotted keys, to the
// depth the config file shape allows.
func flatten(data map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			for kk, vv := range flatten(val) {
				result[k+"."+kk] = vv
			}
		default:
			result[k] = v
		}
	}
	return result
}

func validateDatatype(k string, v any, typ string) string {
	if v == nil {
		return fmt.Sprintf("field %s must not be nil", k)
	}
	switch typ {
	case "string":
		if !isString(v) {
			return fmt.Sprintf("field %s must be a string but %v is %T", k, v, v)
		}
	case "int":
		switch v.(type) {
		case int, int64, uint64, float64:
		default:
			return fmt.Sprintf("field %s must be an int but %v is %T", k, v, v)
		}
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("field %s must be a bool but %v is %T", k, v, v)
		}
	case "duration":
		if !isString(v) {
			return fmt.Sprintf("field %s (%v) must be a valid duration like '3m30s' or '100ms'", k, v)
		}
		if _, err := time.ParseDuration(v.(string)); err != nil {
			return fmt.Sprintf("field %s (%v) must be a valid duration like '3m30s' or '100ms'", k, v)
		}
	case "level":
		if !isString(v) || ParseLevel(v.(string)) == UnknownLevel {
			return fmt.Sprintf("field %s (%v) must be one of debug, info, warn, or error", k, v)
		}
	default:
		panic("unknown data type " + typ)
	}
	return ""
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// closestNamesTo returns the known names nearest to name by edit
// distance, for did-you-mean suggestions. Ties are all returned, sorted.
func closestNamesTo(name string, known []string) []string {
	best := -1
	result := make([]string, 0, 1)
	for _, k := range known {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(k))
		switch {
		case best == -1 || d < best:
			best = d
			result = append(result[:0], k)
		case d == best:
			result = append(result, k)
		}
	}
	sort.Strings(result)
	return result
}

func validateHostPort(k, v string) string {
	if _, _, err := net.SplitHostPort(v); err != nil {
		return fmt.Sprintf("field %s (%v) must be a hostport: %v", k, v, err)
	}
	return ""
}

func validateURL(k, v string) string {
	if v == "" {
		return fmt.Sprintf("field %s may not be blank", k)
	}
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Sprintf("field %s (%v) must be a valid URL: %v", k, v, err)
	}
	if u.Host == "" {
		return fmt.Sprintf("field %s (%v) must be a valid URL with a host", k, v)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("field %s (%v) must use an http or https scheme", k, v)
	}
	return ""
}
