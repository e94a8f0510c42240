package producer

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deepaksharma/otlp-signal-pipeline/internal/signal"
)

// renderTemplate binds args positionally to the {Name} holes of a message
// template, e.g. "Iteration {Iteration} returned {StatusCode}". It returns
// the rendered body and one attribute per bound hole. "{{" and "}}" escape
// literal braces; a format suffix such as {Elapsed:0.00} is accepted and
// ignored. Holes without an argument are left as written.
func renderTemplate(template string, args []any) (string, []attribute.KeyValue) {
	if !strings.ContainsAny(template, "{}") {
		return template, nil
	}

	var (
		body  strings.Builder
		attrs []attribute.KeyValue
		next  int
	)
	body.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && i+1 < len(template) && template[i+1] == '{':
			body.WriteByte('{')
			i++
		case c == '}' && i+1 < len(template) && template[i+1] == '}':
			body.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				body.WriteString(template[i:])
				return body.String(), attrs
			}
			hole := template[i+1 : i+1+end]
			name := hole
			if colon := strings.IndexByte(hole, ':'); colon >= 0 {
				name = hole[:colon]
			}
			name = strings.TrimPrefix(name, "@")

			if name == "" || next >= len(args) {
				body.WriteString(template[i : i+end+2])
			} else {
				arg := args[next]
				next++
				body.WriteString(fmt.Sprint(arg))
				attrs = append(attrs, signal.AttributeFromAny(name, arg))
			}
			i += end + 1
		default:
			body.WriteByte(c)
		}
	}
	return body.String(), attrs
}
