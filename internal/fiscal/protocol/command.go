// Package protocol encodes commands for the fiscal printer bridge and decodes
// its XML responses.
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Arg is a single named command argument. Order matters to the device.
type Arg struct {
	Name  string
	Value any
}

// Command is one device command with its ordered arguments
type Command struct {
	Name string
	Args []Arg
}

// NewCommand builds a command from ordered arguments
func NewCommand(name string, args ...Arg) Command {
	return Command{Name: name, Args: args}
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five XML special characters with their entities.
func Escape(s string) string {
	return xmlEscaper.Replace(s)
}

// Encode renders the command as the XML body accepted by the bridge.
func (c Command) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<Command Name="`)
	buf.WriteString(Escape(c.Name))
	buf.WriteString(`">`)
	if len(c.Args) > 0 {
		buf.WriteString("<Args>")
		for _, a := range c.Args {
			buf.WriteString(`<Arg Name="`)
			buf.WriteString(Escape(a.Name))
			buf.WriteString(`" Value="`)
			buf.WriteString(Escape(formatValue(a.Value)))
			buf.WriteString(`" />`)
		}
		buf.WriteString("</Args>")
	}
	buf.WriteString("</Command>")
	return buf.Bytes()
}

func (c Command) String() string {
	return string(c.Encode())
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
