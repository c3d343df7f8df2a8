package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StripCodeFences removes a surrounding ```json ... ``` fence if present.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line.
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeStrict unmarshals model output into v, rejecting unknown fields and
// trailing data. Failures wrap ErrInvalidResponse.
func DecodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON value", ErrInvalidResponse)
	}
	return nil
}

// DecodeText strips code fences from text then decodes it strictly.
func DecodeText(text string, v any) error {
	body := StripCodeFences(text)
	if body == "" {
		return fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	return DecodeStrict([]byte(body), v)
}
