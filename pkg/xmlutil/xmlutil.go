// Package xmlutil escapes untrusted text before it is placed inside the
// XML-delimited blocks of a model prompt.
package xmlutil

import (
	"encoding/xml"
	"strings"
)

// Escape replaces characters with special meaning in XML so signal text
// cannot close a prompt block early.
func Escape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		// EscapeText only fails on invalid UTF-8; return original on error.
		return s
	}
	return buf.String()
}

// Element renders <name>escaped text</name>. name is trusted.
func Element(name, text string) string {
	var b strings.Builder
	b.Grow(len(name)*2 + len(text) + 5)
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteByte('>')
	b.WriteString(Escape(text))
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
	return b.String()
}
