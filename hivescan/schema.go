package hivescan

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Value parsing
// -----------------------------------------------------------------------------

func parseInt(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// parseFloat accepts decimal forms only. strconv also accepts "inf" and
// "NaN" spellings; those must stay strings so that inference remains
// deterministic.
func parseFloat(raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("non-finite float %q", raw)
	}
	return f, nil
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

// -----------------------------------------------------------------------------
// Type inference
// -----------------------------------------------------------------------------

// inferValueType classifies one raw value: which lattice levels it can
// occupy. The lattice is ordered int64 → float64 → date → datetime → string;
// a later level subsumes nothing from an earlier one except that integers
// widen to float and plain dates widen to datetime.
type valueClass struct {
	isInt      bool
	isFloat    bool
	isDate     bool
	isDatetime bool
}

func classifyValue(raw string) valueClass {
	var c valueClass
	if _, err := parseInt(raw); err == nil {
		c.isInt = true
	}
	if _, err := parseFloat(raw); err == nil {
		c.isFloat = true
	}
	if _, err := parseDate(raw); err == nil {
		c.isDate = true
		c.isDatetime = true // a plain date widens to datetime
		return c
	}
	if _, err := parseDatetime(raw); err == nil {
		c.isDatetime = true
	}
	return c
}

// inferKeyType walks the widening lattice over all sampled values for one
// key. Inference is order-independent: the result depends only on the set of
// values, not on file discovery order. Null sentinels never reach here;
// sentinel-only keys default to string at the call site.
func inferKeyType(values []string, parseDates bool) DataType {
	if len(values) == 0 {
		return TypeString
	}

	allInt, allFloat, allDate, allDatetime := true, true, true, true
	for _, v := range values {
		c := classifyValue(v)
		allInt = allInt && c.isInt
		allFloat = allFloat && c.isFloat
		allDate = allDate && c.isDate
		allDatetime = allDatetime && c.isDatetime
	}

	switch {
	case allInt:
		return TypeInt64
	case allFloat:
		return TypeFloat64
	case parseDates && allDate:
		return TypeDate
	case parseDates && allDatetime:
		return TypeDatetime
	default:
		return TypeString
	}
}

// -----------------------------------------------------------------------------
// Hive schema resolution
// -----------------------------------------------------------------------------

// resolveHiveSchema produces the partition-key schema for a set of
// discovered entries. Keys keep first-seen order. Override fields replace
// inference for their key; an override key never seen in any path is a
// FieldNotFoundError. The entries must already have a validated, uniform
// partition shape.
func resolveHiveSchema(entries []FileEntry, override *Schema, parseDates bool) (Schema, error) {
	var keys []string
	samples := make(map[string][]string)
	for _, e := range entries {
		for _, p := range e.Partitions {
			if _, seen := samples[p.Key]; !seen {
				keys = append(keys, p.Key)
				samples[p.Key] = nil
			}
			if !p.IsNull() {
				samples[p.Key] = append(samples[p.Key], p.Value)
			}
		}
	}

	overrideTypes := make(map[string]DataType)
	if override != nil {
		for _, f := range override.Fields {
			if _, seen := samples[f.Name]; !seen {
				return Schema{}, &FieldNotFoundError{Key: f.Name}
			}
			overrideTypes[f.Name] = f.Type
		}
	}

	fields := make([]Field, 0, len(keys))
	for _, key := range keys {
		t, forced := overrideTypes[key]
		if !forced {
			t = inferKeyType(samples[key], parseDates)
		}
		fields = append(fields, Field{Name: key, Type: t})
	}
	return Schema{Fields: fields}, nil
}

// typedPartitionValues parses one entry's raw partition values under the
// resolved hive schema. The result is aligned with the schema's field order;
// null sentinels become nil. The first unparsable value aborts with a
// CoercionError; there is no fallback to string once types are resolved.
func typedPartitionValues(entry FileEntry, hive Schema) ([]any, error) {
	values := make([]any, len(hive.Fields))
	for i, f := range hive.Fields {
		raw, ok := entry.partitionValue(f.Name)
		if !ok || raw == NullPartitionValue {
			values[i] = nil
			continue
		}
		v, err := parseTyped(raw, f.Type)
		if err != nil {
			return nil, &CoercionError{Key: f.Name, Value: raw, Type: f.Type}
		}
		values[i] = v
	}
	return values, nil
}

// -----------------------------------------------------------------------------
// Output schema merge
// -----------------------------------------------------------------------------

// outputLayout is the explicit merge of the physical and hive schemas.
//
// The shadowing rule: when a partition key's name also exists as a physical
// column, the physical column's values win for output and the
// directory-derived value is not separately materialized (it still serves
// predicate pushdown). An override on a shadowed key instead forces a cast
// of the physical column to the override type.
type outputLayout struct {
	// output is the final schema: physical columns in file order, then
	// unshadowed hive keys in first-seen order.
	output Schema

	// physical is the representative file's schema as stored.
	physical Schema

	// hive is the resolved partition-key schema.
	hive Schema

	// shadowed marks hive keys whose name collides with a physical column.
	shadowed map[string]bool

	// casts maps physical column names to a forced output type, present
	// only for shadowed keys with an explicit override.
	casts map[string]DataType
}

// mergeOutputSchema builds the output layout. A collision between a hive key
// and a physical column of a different semantic type is rejected unless an
// override explicitly permits it.
func mergeOutputSchema(physical, hive Schema, overridden map[string]bool) (outputLayout, error) {
	layout := outputLayout{
		physical: physical,
		hive:     hive,
		shadowed: make(map[string]bool),
		casts:    make(map[string]DataType),
	}

	fields := make([]Field, 0, len(physical.Fields)+len(hive.Fields))
	fields = append(fields, physical.Fields...)

	for _, hf := range hive.Fields {
		idx := physical.Index(hf.Name)
		if idx < 0 {
			fields = append(fields, hf)
			continue
		}
		layout.shadowed[hf.Name] = true
		if overridden[hf.Name] {
			// Physical values are cast to the override type.
			fields[idx].Type = hf.Type
			layout.casts[hf.Name] = hf.Type
			continue
		}
		if physical.Fields[idx].Type != hf.Type {
			return outputLayout{}, fmt.Errorf(
				"hive partition key %q (%s) collides with physical column of type %s; pass an explicit hive schema to permit this",
				hf.Name, hf.Type, physical.Fields[idx].Type,
			)
		}
	}

	layout.output = Schema{Fields: fields}
	return layout, nil
}

// isHiveOnly reports whether name is an unshadowed hive key, meaning it is
// synthesized from the path and never read from the file.
func (l outputLayout) isHiveOnly(name string) bool {
	return l.hive.Has(name) && !l.shadowed[name]
}

// -----------------------------------------------------------------------------
// Casting
// -----------------------------------------------------------------------------

// castValue coerces a non-nil value to the target semantic type. Used when
// an override schema forces a different output type than the stored one,
// e.g. an integer-valued partition folded into a float or string column.
func castValue(v any, to DataType) (any, error) {
	switch to {
	case TypeString:
		return formatValue(v), nil
	case TypeFloat64:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case TypeInt64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case int:
			return int64(n), nil
		case float64:
			if math.Trunc(n) == n {
				return int64(n), nil
			}
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDate, TypeDatetime:
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
		if s, ok := v.(string); ok {
			return parseTyped(s, to)
		}
	}
	return nil, fmt.Errorf("cannot cast %T to %s", v, to)
}

// formatValue renders a value the way it would appear in a partition path.
func formatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int:
		return strconv.Itoa(n)
	case float64:
		s := strconv.FormatFloat(n, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case bool:
		return strconv.FormatBool(n)
	case time.Time:
		if n.Hour() == 0 && n.Minute() == 0 && n.Second() == 0 && n.Nanosecond() == 0 {
			return n.Format(dateLayout)
		}
		return n.Format("2006-01-02 15:04:05.999999")
	default:
		return fmt.Sprintf("%v", v)
	}
}
