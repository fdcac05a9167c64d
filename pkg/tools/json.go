package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/kaptinlin/jsonrepair"
)

// decodeArgs unmarshals JSON into v, repairing it first when the model
// produced something that is almost JSON.
func decodeArgs(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

// errNoMatch means a jq parser found nothing usable in a response.
var errNoMatch = errors.New("no data in response")

// parser extracts a normalized shape from a provider response with jq.
type parser struct {
	src  string
	code *gojq.Code
	vars []string
}

// mustParser compiles a jq program. vars are the variable names the program
// expects, in the order values are passed to run.
func mustParser(src string, vars ...string) *parser {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("tools: parse jq %q: %v", src, err))
	}
	code, err := gojq.Compile(q, gojq.WithVariables(vars))
	if err != nil {
		panic(fmt.Sprintf("tools: compile jq %q: %v", src, err))
	}
	return &parser{src: src, code: code, vars: vars}
}

// run evaluates the program against body and decodes the first result
// into out. A program that yields nothing or null returns errNoMatch.
func (p *parser) run(body []byte, out any, values ...any) error {
	var input any
	if err := json.Unmarshal(body, &input); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}

	iter := p.code.Run(input, values...)
	v, ok := iter.Next()
	if !ok || v == nil {
		return errNoMatch
	}
	if err, ok := v.(error); ok {
		return fmt.Errorf("unexpected response shape: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
