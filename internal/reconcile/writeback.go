package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/buger/jsonparser"
)

// newValidation is the shape of a validation appended by sync.
type newValidation struct {
	Type   string `json:"type"`
	Ref    string `json:"ref"`
	Phase  string `json:"phase"`
	Status string `json:"status,omitempty"`
}

// rewrite applies edits to the raw bytes of a requirement file. Only the
// owned keys change (requirement "status", the validation list and its
// "status" fields, "_metadata.last_synced_at"); every other key keeps its
// value and position. The result is re-indented with two spaces.
func rewrite(raw []byte, edits []*reqEdit, now time.Time) ([]byte, error) {
	elems, err := arrayElements(raw, "requirements")
	if err != nil {
		return nil, err
	}

	for _, e := range edits {
		if e.index >= len(elems) {
			return nil, fmt.Errorf("requirements[%d] out of range", e.index)
		}
		elem := elems[e.index]

		if e.status != "" {
			if elem, err = jsonparser.Set(elem, quote(e.status), "status"); err != nil {
				return nil, fmt.Errorf("requirements[%d].status: %w", e.index, err)
			}
		}

		if e.listChanged || len(e.newStatus) > 0 {
			list, err := rebuildValidations(elem, e)
			if err != nil {
				return nil, fmt.Errorf("requirements[%d].%s: %w", e.index, e.key, err)
			}
			if elem, err = jsonparser.Set(elem, list, e.key); err != nil {
				return nil, fmt.Errorf("requirements[%d].%s: %w", e.index, e.key, err)
			}
		}
		elems[e.index] = elem
	}

	out, err := jsonparser.Set(raw, joinArray(elems), "requirements")
	if err != nil {
		return nil, fmt.Errorf("requirements: %w", err)
	}
	out, err = jsonparser.Set(out, quote(now.UTC().Format(time.RFC3339)), "_metadata", "last_synced_at")
	if err != nil {
		return nil, fmt.Errorf("_metadata.last_synced_at: %w", err)
	}
	return reindent(out)
}

func rebuildValidations(elem []byte, e *reqEdit) ([]byte, error) {
	orig, err := arrayElements(elem, e.key)
	if err != nil {
		return nil, err
	}
	parts := make([][]byte, 0, len(e.layout))
	for pos, o := range e.layout {
		if o < 0 {
			v := e.added[pos]
			b, err := marshalRaw(newValidation{Type: v.RawType, Ref: v.Ref, Phase: v.Phase, Status: string(v.Status)})
			if err != nil {
				return nil, err
			}
			parts = append(parts, b)
			continue
		}
		if o >= len(orig) {
			return nil, fmt.Errorf("validation %d out of range", o)
		}
		item := orig[o]
		if st, ok := e.newStatus[o]; ok {
			if item, err = jsonparser.Set(item, quote(st), "status"); err != nil {
				return nil, err
			}
		}
		parts = append(parts, item)
	}
	return joinArray(parts), nil
}

// arrayElements returns a copy of every element of the array at key. A
// missing key yields no elements.
func arrayElements(data []byte, key string) ([][]byte, error) {
	var out [][]byte
	var inner error
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil {
			inner = err
			return
		}
		item := append([]byte(nil), value...)
		if dataType == jsonparser.String {
			item = append(append([]byte{'"'}, value...), '"')
		}
		out = append(out, item)
	}, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, inner
}

func joinArray(parts [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(parts, []byte{','}))
	buf.WriteByte(']')
	return buf.Bytes()
}

func quote(s string) []byte {
	b, _ := marshalRaw(s)
	return b
}

// marshalRaw encodes v without HTML escaping and without the trailing
// newline json.Encoder adds.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func reindent(data []byte) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("indent: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
