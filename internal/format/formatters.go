package format

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// ErrUnknownFormatter is returned by Lookup for names that are neither a
// builtin formatter nor a known enumeration.
var ErrUnknownFormatter = errors.New("unknown formatter")

// Formatter turns a JSON value into text.
type Formatter func(v gjson.Result) (string, error)

var builtins = map[string]Formatter{
	"json":         JSON,
	"json-compact": JSONCompact,
	"position":     Position,
	"range":        Range,
}

// Lookup returns the formatter called name. Builtin names are matched
// case-insensitively; anything else must be the exact name of an LSP
// enumeration such as MessageType or CompletionItemKind.
func Lookup(name string) (Formatter, error) {
	if f, ok := builtins[strings.ToLower(name)]; ok {
		return f, nil
	}
	if e, ok := enums[name]; ok {
		return enumFormatter(name, e), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormatter, name)
}

// String is used when no formatter is given. Strings are written without
// quotes, everything else as compact JSON.
func String(v gjson.Result) (string, error) {
	if v.Type == gjson.String {
		return v.Str, nil
	}
	return compact(v.Raw), nil
}

// JSON writes the value as indented JSON.
func JSON(v gjson.Result) (string, error) {
	out := pretty.PrettyOptions([]byte(v.Raw), &pretty.Options{
		Width:  80,
		Indent: "  ",
	})
	return strings.TrimSuffix(string(out), "\n"), nil
}

// JSONCompact writes the value as JSON without insignificant whitespace.
func JSONCompact(v gjson.Result) (string, error) {
	return compact(v.Raw), nil
}

// Position writes a {line, character} object as line:character.
func Position(v gjson.Result) (string, error) {
	line, err := integer(v, "line")
	if err != nil {
		return "", err
	}
	char, err := integer(v, "character")
	if err != nil {
		return "", err
	}
	return line + ":" + char, nil
}

// Range writes a {start, end} object as start-end using Position for each end.
func Range(v gjson.Result) (string, error) {
	start, err := field(v, "start")
	if err != nil {
		return "", err
	}
	end, err := field(v, "end")
	if err != nil {
		return "", err
	}
	s, err := Position(start)
	if err != nil {
		return "", err
	}
	e, err := Position(end)
	if err != nil {
		return "", err
	}
	return s + "-" + e, nil
}

func integer(v gjson.Result, name string) (string, error) {
	f, err := field(v, name)
	if err != nil {
		return "", err
	}
	if f.Type != gjson.Number {
		return "", fmt.Errorf("%q is not a number", name)
	}
	return f.Raw, nil
}

func enumFormatter(name string, e enum) Formatter {
	return func(v gjson.Result) (string, error) {
		var key string
		switch v.Type {
		case gjson.Number:
			key = v.Raw
		case gjson.String:
			key = v.Str
		default:
			return "", fmt.Errorf("%s value must be a number or string, got %s", name, v.Type)
		}
		if label, ok := e[key]; ok {
			return label, nil
		}
		return "", fmt.Errorf("%s has no member %s", name, v.Raw)
	}
}
