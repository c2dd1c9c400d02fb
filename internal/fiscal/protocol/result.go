package protocol

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Value kinds declared by the bridge in the Type attribute of a result value
const (
	KindText              = "Text"
	KindNumber            = "Number"
	KindDecimal           = "Decimal"
	KindDecimalWithFormat = "Decimal_with_format"
	KindDecimalPlus80h    = "Decimal_plus_80h"
	KindStatus            = "Status"
	KindNull              = "Null"
	KindOption            = "Option"
)

// NullPlaceholder is the text value the device uses for "no value".
const NullPlaceholder = "@"

// Result holds the typed values returned by a successful command.
// Numeric kinds are float64, status kinds are int 0/1, null kinds are nil
// and everything else is a string.
type Result map[string]any

// Float returns a numeric value
func (r Result) Float(name string) (float64, bool) {
	v, ok := r[name].(float64)
	return v, ok
}

// String returns a text value, or "" when absent or null
func (r Result) String(name string) string {
	v, _ := r[name].(string)
	return v
}

// Flag reports whether a status value is set
func (r Result) Flag(name string) bool {
	v, _ := r[name].(int)
	return v == 1
}

type xmlResponse struct {
	XMLName xml.Name   `xml:"Res"`
	Code    string     `xml:"Code,attr"`
	Err     *xmlError  `xml:"Err"`
	Values  []xmlValue `xml:"Res"`
}

type xmlError struct {
	Source  string `xml:"Source,attr"`
	Message string `xml:"Message"`
	Details string `xml:"Details"`
	STE1    string `xml:"STE1"`
	STE2    string `xml:"STE2"`
}

type xmlValue struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
	Type  string `xml:"Type,attr"`
}

// Decode parses a bridge response. A non-zero result code is returned as a
// *ProtocolError.
func Decode(body []byte) (Result, error) {
	var resp xmlResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse bridge response: %w", err)
	}

	code, err := strconv.Atoi(strings.TrimSpace(resp.Code))
	if err != nil {
		return nil, fmt.Errorf("invalid result code %q: %w", resp.Code, err)
	}

	if code != 0 {
		perr := &ProtocolError{Code: code}
		if resp.Err != nil {
			perr.Source = resp.Err.Source
			perr.Message = strings.TrimSpace(resp.Err.Message)
			perr.Details = strings.TrimSpace(resp.Err.Details)
			perr.STE1 = parseStatusByte(resp.Err.STE1)
			perr.STE2 = parseStatusByte(resp.Err.STE2)
		}
		return nil, perr
	}

	result := make(Result, len(resp.Values))
	for _, v := range resp.Values {
		val, err := coerce(v)
		if err != nil {
			return nil, err
		}
		result[v.Name] = val
	}

	return result, nil
}

func coerce(v xmlValue) (any, error) {
	switch v.Type {
	case KindNumber, KindDecimal, KindDecimalWithFormat, KindDecimalPlus80h:
		s := strings.TrimSpace(v.Value)
		if s == "" || s == NullPlaceholder {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q for %s: %w", v.Type, v.Value, v.Name, err)
		}
		return f, nil
	case KindStatus:
		if strings.TrimSpace(v.Value) == "1" {
			return 1, nil
		}
		return 0, nil
	case KindNull:
		return nil, nil
	default:
		if v.Value == NullPlaceholder {
			return nil, nil
		}
		return v.Value, nil
	}
}

// parseStatusByte reads a hexadecimal status sub-code such as "33" or "0x33".
func parseStatusByte(s string) byte {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return byte(n)
}
