package hivescan

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ParseSchemaJSON parses a schema override from its JSON form, an object
// mapping field names to type names:
//
//	{"year": "int64", "category": "string"}
//
// Field order follows the document. Recognized type names are boolean,
// int64, float64, string, date and datetime.
func ParseSchemaJSON(data []byte) (Schema, error) {
	var raw []struct {
		name string
		typ  string
	}
	iter := json.BorrowIterator(data)
	iter.ReadMapCB(func(it *jsoniter.Iterator, field string) bool {
		raw = append(raw, struct {
			name string
			typ  string
		}{name: field, typ: it.ReadString()})
		return true
	})
	err := iter.Error
	json.ReturnIterator(iter)
	if err != nil {
		return Schema{}, fmt.Errorf("parse schema: %w", err)
	}

	fields := make([]Field, 0, len(raw))
	for _, entry := range raw {
		t, err := parseDataType(entry.typ)
		if err != nil {
			return Schema{}, fmt.Errorf("parse schema field %q: %w", entry.name, err)
		}
		fields = append(fields, Field{Name: entry.name, Type: t})
	}
	return Schema{Fields: fields}, nil
}

func parseDataType(name string) (DataType, error) {
	switch name {
	case "boolean", "bool":
		return TypeBoolean, nil
	case "int64", "int":
		return TypeInt64, nil
	case "float64", "float":
		return TypeFloat64, nil
	case "string", "str":
		return TypeString, nil
	case "date":
		return TypeDate, nil
	case "datetime":
		return TypeDatetime, nil
	default:
		return 0, fmt.Errorf("unknown type name %q", name)
	}
}
