package service

import (
	"encoding/json"
	"errors"
	"log/slog"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/payables/internal/apperr"
)

var connectCodes = map[apperr.Code]connect.Code{
	apperr.CodeValidation:   connect.CodeInvalidArgument,
	apperr.CodeNotFound:     connect.CodeNotFound,
	apperr.CodeForbidden:    connect.CodePermissionDenied,
	apperr.CodeBusinessRule: connect.CodeFailedPrecondition,
	apperr.CodeConflict:     connect.CodeAborted,
	apperr.CodeInternal:     connect.CodeInternal,
}

// connectError converts an application error into a Connect error. The
// application code and details travel as a google.protobuf.Struct detail.
func connectError(err error) error {
	e := apperr.From(err)
	code, ok := connectCodes[e.Code]
	if !ok {
		code = connect.CodeUnknown
	}
	ce := connect.NewError(code, errors.New(e.Message))

	fields := map[string]any{"code": string(e.Code)}
	for k, v := range e.Details {
		fields[k] = v
	}
	st, err := toStruct(fields)
	if err != nil {
		slog.Warn("Failed to encode error details", "error", err, "code", e.Code)
		return ce
	}
	detail, err := connect.NewErrorDetail(st)
	if err != nil {
		slog.Warn("Failed to attach error details", "error", err, "code", e.Code)
		return ce
	}
	ce.AddDetail(detail)
	return ce
}

// toStruct round-trips through JSON so that typed slices and structs in the
// details become values structpb accepts.
func toStruct(fields map[string]any) (*structpb.Struct, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var plain map[string]any
	if err := json.Unmarshal(b, &plain); err != nil {
		return nil, err
	}
	return structpb.NewStruct(plain)
}

// ErrorDetails returns the application code and details carried by a Connect
// error, if any.
func ErrorDetails(err error) (apperr.Code, map[string]any) {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return "", nil
	}
	for _, d := range ce.Details() {
		msg, err := d.Value()
		if err != nil {
			continue
		}
		st, ok := msg.(*structpb.Struct)
		if !ok {
			continue
		}
		fields := st.AsMap()
		code, _ := fields["code"].(string)
		delete(fields, "code")
		return apperr.Code(code), fields
	}
	return "", nil
}
