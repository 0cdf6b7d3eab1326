package httpapi

import (
	"encoding/json"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Armario/internal/armario/types"
)

// Device clients speak protobuf without a generated schema: bodies are
// google.protobuf.Struct messages whose fields mirror the JSON DTOs.

// ── Enrollment ──────────────────────────────────────────────────────────────

func enrollmentRequestFromProto(p *structpb.Struct) types.EnrollmentRequest {
	return types.EnrollmentRequest{
		Name:               stringField(p, "name"),
		NationalID:         stringField(p, "national_id"),
		RegistrationNumber: stringField(p, "registration_number"),
		Drawer:             stringField(p, "drawer"),
	}
}

func simFingerFromProto(p *structpb.Struct) types.SimFingerRequest {
	var req types.SimFingerRequest
	if _, ok := p.GetFields()["finger"]; ok {
		f := stringField(p, "finger")
		req.Finger = &f
	}
	return req
}

// ── Generic ─────────────────────────────────────────────────────────────────

// toStruct converts a JSON-tagged DTO into a Struct with the same fields.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// stringField reads key as a string. Numbers are accepted so a drawer may be
// sent as 1 or 2.
func stringField(p *structpb.Struct, key string) string {
	v, ok := p.GetFields()[key]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}
