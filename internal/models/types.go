package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringArray stores a list of strings in a single text column using the
// postgres array literal format, so the same rows read back on any dialect.
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = StringArray{}
		return nil
	case []byte:
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			*s = arr
			return nil
		}
		return s.Scan(string(v))
	case string:
		*s = parseArrayLiteral(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(s))
	for i, v := range s {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `"`, `\"`)
		quoted[i] = `"` + v + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

// Clone returns a copy that shares no backing array with s.
func (s StringArray) Clone() StringArray {
	if s == nil {
		return nil
	}
	out := make(StringArray, len(s))
	copy(out, s)
	return out
}

// parseArrayLiteral reads {a,"b c","d\"e"} as produced by Value or by postgres.
func parseArrayLiteral(v string) StringArray {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "{") || !strings.HasSuffix(v, "}") {
		if v == "" {
			return StringArray{}
		}
		return StringArray{v}
	}
	body := v[1 : len(v)-1]
	out := StringArray{}
	if body == "" {
		return out
	}

	var (
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range body {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(out, strings.TrimSpace(cur.String()))
}
