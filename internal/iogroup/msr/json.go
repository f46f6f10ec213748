package msr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

var requiredMSRKeys = []string{"offset", "domain", "fields"}
var requiredFieldKeys = []string{"begin_bit", "end_bit", "function", "units", "scalar", "writeable", "behavior", "aggregation"}

// ParseJSON augments the built-in register table with the MSRs described
// by an auxiliary JSON document (the schema in spec.md §6). Every
// violation fails with geopmerr.MalformedConfig naming the offending key,
// matching the reference parser's error vocabulary exactly.
func ParseJSON(data []byte) ([]Register, error) {
	top, err := decodeObject(data)
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.MalformedConfig, "msr.parse_json", "top level", fmt.Errorf("detected a malformed json string: %w", err))
	}
	if err := checkKeys(top, []string{"msrs"}, []string{"msrs"}, "at top level"); err != nil {
		return nil, err
	}

	msrsRaw, ok := top["msrs"]
	if !ok {
		return nil, malformed(`"msrs" key is required`, "at top level")
	}
	msrsObj, ok := msrsRaw.(map[string]interface{})
	if !ok {
		return nil, malformed(`"msrs" must be an object`, "at top level")
	}

	var registers []Register
	for name, rawMSR := range msrsObj {
		reg, err := parseMSREntry(name, rawMSR)
		if err != nil {
			return nil, err
		}
		registers = append(registers, reg)
	}
	return registers, nil
}

func parseMSREntry(name string, raw interface{}) (Register, error) {
	msr, ok := raw.(map[string]interface{})
	if !ok {
		return Register{}, malformed(fmt.Sprintf("msr %q must be an object", name), "")
	}
	if err := checkKeys(msr, requiredMSRKeys, requiredMSRKeys, fmt.Sprintf("in msr %q", name)); err != nil {
		return Register{}, err
	}

	offsetRaw, _ := msr["offset"].(string)
	offset, offsetErr := parseHexOffset(offsetRaw)
	if _, isStr := msr["offset"].(string); !isStr || offsetErr != nil {
		return Register{}, malformed(`"offset" must be a hex string and non-zero`, fmt.Sprintf("in msr %q", name))
	}

	domainStr, isStr := msr["domain"].(string)
	if !isStr {
		return Register{}, malformed(`"domain" must be a valid domain string`, fmt.Sprintf("in msr %q", name))
	}
	domain, domainErr := topo.NameToDomain(domainStr)
	if domainErr != nil {
		return Register{}, malformed(`"domain" must be a valid domain string`, fmt.Sprintf("in msr %q", name))
	}

	fieldsRaw, ok := msr["fields"].(map[string]interface{})
	if !ok {
		return Register{}, malformed(`"fields" must be an object`, fmt.Sprintf("in msr %q", name))
	}

	fields := make(map[string]Field, len(fieldsRaw))
	for fieldName, rawField := range fieldsRaw {
		f, err := parseField(name, fieldName, rawField)
		if err != nil {
			return Register{}, err
		}
		fields[fieldName] = f
	}

	return Register{Name: name, Offset: offset, Domain: domain, Fields: fields}, nil
}

func parseField(msrName, fieldName string, raw interface{}) (Field, error) {
	fieldObj, ok := raw.(map[string]interface{})
	if !ok {
		return Field{}, malformed(fmt.Sprintf("%q field within msr %q must be an object", fieldName, msrName), "")
	}
	ctx := fmt.Sprintf("in %q", msrName+":"+fieldName)
	optional := []string{"description"}
	if err := checkKeys(fieldObj, requiredFieldKeys, append(append([]string{}, requiredFieldKeys...), optional...), ctx); err != nil {
		return Field{}, err
	}

	beginBit, err := requireInt(fieldObj, "begin_bit", ctx)
	if err != nil {
		return Field{}, err
	}
	endBit, err := requireInt(fieldObj, "end_bit", ctx)
	if err != nil {
		return Field{}, err
	}

	functionStr, ok := fieldObj["function"].(string)
	function, funcOK := parseFunction(functionStr)
	if !ok || !funcOK {
		return Field{}, malformed(`"function" must be a valid function string`, ctx)
	}

	unitsStr, ok := fieldObj["units"].(string)
	if !ok {
		return Field{}, malformed(`"units" must be a string`, ctx)
	}

	scalar, err := requireNumber(fieldObj, "scalar", ctx)
	if err != nil {
		return Field{}, err
	}

	writeable, ok := fieldObj["writeable"].(bool)
	if !ok {
		return Field{}, malformed(`"writeable" must be a bool`, ctx)
	}

	behaviorStr, ok := fieldObj["behavior"].(string)
	behavior, behaviorOK := parseBehavior(behaviorStr)
	if !ok || !behaviorOK {
		return Field{}, malformed(`"behavior" must be a valid behavior string`, ctx)
	}

	aggStr, ok := fieldObj["aggregation"].(string)
	agg, aggOK := parseAggregation(aggStr)
	if !ok || !aggOK {
		return Field{}, malformed(`"aggregation" must be a valid aggregation function name`, ctx)
	}

	description := ""
	if rawDesc, present := fieldObj["description"]; present {
		d, isStr := rawDesc.(string)
		if !isStr {
			return Field{}, malformed(`"description" must be a string`, ctx)
		}
		description = d
	}

	return Field{
		Name:        fieldName,
		BeginBit:    beginBit,
		EndBit:      endBit,
		Function:    function,
		Units:       parseUnits(unitsStr),
		Scalar:      scalar,
		Writable:    writeable,
		Behavior:    behavior,
		Aggregation: agg,
		Description: description,
	}, nil
}

func requireInt(obj map[string]interface{}, key, ctx string) (int, error) {
	raw, ok := obj[key]
	if !ok {
		return 0, malformed(fmt.Sprintf("%q key is required", key), ctx)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, malformed(fmt.Sprintf("%q must be an integer", key), ctx)
	}
	i, err := num.Int64()
	if err != nil {
		return 0, malformed(fmt.Sprintf("%q must be an integer", key), ctx)
	}
	return int(i), nil
}

func requireNumber(obj map[string]interface{}, key, ctx string) (float64, error) {
	raw, ok := obj[key]
	if !ok {
		return 0, malformed(fmt.Sprintf("%q key is required", key), ctx)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, malformed(fmt.Sprintf("%q must be a number", key), ctx)
	}
	f, err := num.Float64()
	if err != nil {
		return 0, malformed(fmt.Sprintf("%q must be a number", key), ctx)
	}
	return f, nil
}

// checkKeys enforces that obj contains every key in required and no key
// outside allowed.
func checkKeys(obj map[string]interface{}, required, allowed []string, ctx string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}
	for k := range obj {
		if !allowedSet[k] {
			return malformed(fmt.Sprintf("unexpected key %q found", k), ctx)
		}
	}
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			return malformed(fmt.Sprintf("%q key is required", k), ctx)
		}
	}
	return nil
}

func malformed(msg, ctx string) error {
	if ctx != "" {
		msg = msg + " " + ctx
	}
	return geopmerr.New(geopmerr.MalformedConfig, "msr.parse_json", msg)
}

func parseHexOffset(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid hex offset %q", s)
	}
	return v, nil
}

func parseBehavior(s string) (iogroup.Behavior, bool) {
	switch s {
	case "constant":
		return iogroup.BehaviorConstant, true
	case "monotone":
		return iogroup.BehaviorMonotone, true
	case "variable":
		return iogroup.BehaviorVariable, true
	case "label":
		return iogroup.BehaviorLabel, true
	default:
		return 0, false
	}
}

func parseAggregation(s string) (iogroup.Aggregation, bool) {
	switch s {
	case "sum":
		return iogroup.AggSum, true
	case "average":
		return iogroup.AggAverage, true
	case "min":
		return iogroup.AggMin, true
	case "max":
		return iogroup.AggMax, true
	case "median":
		return iogroup.AggMedian, true
	case "stddev":
		return iogroup.AggStddev, true
	case "select_first":
		return iogroup.AggSelectFirst, true
	case "expect_same":
		return iogroup.AggExpectSame, true
	case "logical_and":
		return iogroup.AggLogicalAnd, true
	case "logical_or":
		return iogroup.AggLogicalOr, true
	case "region_hash":
		return iogroup.AggRegionHash, true
	case "region_hint":
		return iogroup.AggRegionHint, true
	default:
		return 0, false
	}
}

func parseUnits(s string) iogroup.Units {
	switch s {
	case "hertz":
		return iogroup.UnitsHertz
	case "watts":
		return iogroup.UnitsWatts
	case "joules":
		return iogroup.UnitsJoules
	case "seconds":
		return iogroup.UnitsSeconds
	case "celsius":
		return iogroup.UnitsCelsius
	default:
		return iogroup.UnitsNone
	}
}

// decodeObject decodes data as a single JSON object with numbers kept as
// json.Number (so integer/float distinctions survive for schema checks).
func decodeObject(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after top-level value")
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("top-level value is not an object")
	}
	return obj, nil
}
