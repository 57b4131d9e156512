package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// newLogger logs to stderr at error level, or debug with --verbose.
func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelError
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// stdout is where command output goes. Tests swap it via App.Writer.
func stdout(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// render writes v as JSON when --json or --jq is set and calls human otherwise.
func render(c *cli.Context, v interface{}, human func(w io.Writer)) error {
	w := stdout(c)
	if filter := c.String("jq"); filter != "" {
		return outputJQ(w, filter, v)
	}
	if c.Bool("json") || human == nil {
		return outputJSON(w, v)
	}
	human(w)
	return nil
}

// Helper function to output JSON
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJQ runs filter over v and prints every result as JSON.
func outputJQ(w io.Writer, filter string, v interface{}) error {
	code, err := compileJQ(filter)
	if err != nil {
		return err
	}
	input, err := jsonValue(v)
	if err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		if err := outputJSON(w, out); err != nil {
			return err
		}
	}
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// jsonValue converts v to the plain maps and slices gojq operates on.
func jsonValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}
	return out, nil
}

// matchesJQ reports whether every filter yields a truthy first result for v.
func matchesJQ(codes []*gojq.Code, v interface{}) bool {
	if len(codes) == 0 {
		return true
	}
	input, err := jsonValue(v)
	if err != nil {
		return false
	}
	for _, code := range codes {
		iter := code.Run(input)
		out, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := out.(error); isErr {
			return false
		}
		if !isTruthy(out) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: only false and null are falsy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
