// Package remote exposes a repository.MetadataCollection over gRPC and provides
// the matching client, so that cohort members in other processes can be
// registered with the enterprise layer like local ones.
//
// Calls travel as protobuf well-known types over gRPC's default codec: the
// request is a google.protobuf.Struct holding the user id and the argument
// list, the answer a google.protobuf.Value. No generated stubs are involved:
// the service descriptor is built from the dispatch table in handlers.go.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"metacohort/pkg/repository"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "metacohort.MetadataCollection"

// Trailer keys carrying a repository failure across the wire.
const (
	kindTrailer   = "metacohort-error-kind"
	methodTrailer = "metacohort-error-method"
)

// Field names of the request struct.
const (
	userIDField = "user_id"
	argsField   = "args"
)

// request is the decoded body of every call. Args holds the operation's
// parameters after the user id, in declaration order.
type request struct {
	UserID string
	Args   []*structpb.Value
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// toValue converts v to a protobuf value through its JSON form, so the
// domain types keep their json tags as the wire schema.
func toValue(v interface{}) (*structpb.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Value{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromValue decodes a protobuf value into dst. An unset or null value leaves
// dst untouched.
func fromValue(v *structpb.Value, dst interface{}) error {
	if v == nil || v.GetKind() == nil {
		return nil
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil
	}
	b, err := protojson.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func newRequest(userID string, args []interface{}) (*request, error) {
	r := &request{UserID: userID, Args: make([]*structpb.Value, 0, len(args))}
	for i, a := range args {
		v, err := toValue(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		r.Args = append(r.Args, v)
	}
	return r, nil
}

func (r *request) message() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		userIDField: structpb.NewStringValue(r.UserID),
		argsField:   structpb.NewListValue(&structpb.ListValue{Values: r.Args}),
	}}
}

func requestFrom(msg *structpb.Struct) (*request, error) {
	fields := msg.GetFields()
	user, ok := fields[userIDField].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, fmt.Errorf("missing %s", userIDField)
	}
	r := &request{UserID: user.StringValue}
	if args := fields[argsField]; args != nil {
		list, ok := args.GetKind().(*structpb.Value_ListValue)
		if !ok {
			return nil, fmt.Errorf("%s is not a list", argsField)
		}
		r.Args = list.ListValue.GetValues()
	}
	return r, nil
}

// scan decodes the request arguments into dst in order. The failure carries
// no method; toStatus fills in the one being served.
func (r *request) scan(dst ...interface{}) error {
	if len(r.Args) != len(dst) {
		return repository.Errorf(repository.KindInvalidParameter, "",
			"expected %d arguments, got %d", len(dst), len(r.Args))
	}
	for i, d := range dst {
		if err := fromValue(r.Args[i], d); err != nil {
			return repository.Errorf(repository.KindInvalidParameter, "", "argument %d: %v", i, err)
		}
	}
	return nil
}

var kindCodes = map[repository.Kind]codes.Code{
	repository.KindInvalidParameter:       codes.InvalidArgument,
	repository.KindUserNotAuthorized:      codes.PermissionDenied,
	repository.KindEntityNotKnown:         codes.NotFound,
	repository.KindRelationshipNotKnown:   codes.NotFound,
	repository.KindTypeDefNotKnown:        codes.NotFound,
	repository.KindEntityProxyOnly:        codes.FailedPrecondition,
	repository.KindTypeError:              codes.InvalidArgument,
	repository.KindTypeDefConflict:        codes.AlreadyExists,
	repository.KindInvalidTypeDef:         codes.InvalidArgument,
	repository.KindPropertyError:          codes.InvalidArgument,
	repository.KindPagingError:            codes.InvalidArgument,
	repository.KindStatusNotSupported:     codes.FailedPrecondition,
	repository.KindEntityNotDeleted:       codes.FailedPrecondition,
	repository.KindRelationshipNotDeleted: codes.FailedPrecondition,
	repository.KindClassificationError:    codes.FailedPrecondition,
	repository.KindFunctionNotSupported:   codes.Unimplemented,
	repository.KindRepositoryError:        codes.Internal,
	repository.KindNoHome:                 codes.FailedPrecondition,
	repository.KindNoRepositories:         codes.FailedPrecondition,
}

// toStatus converts a collection failure into a gRPC status and attaches its
// kind as trailers. Foreign errors travel as repository errors.
func toStatus(ctx context.Context, method string, err error) error {
	var re *repository.Error
	if !errors.As(err, &re) {
		re = repository.Wrap(repository.KindRepositoryError, method, err)
	}
	code, ok := kindCodes[re.Kind]
	if !ok {
		code = codes.Unknown
	}
	if re.Method != "" {
		method = re.Method
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(kindTrailer, re.Kind.String(), methodTrailer, method))

	msg := re.Message
	if re.Err != nil {
		if msg == "" {
			msg = re.Err.Error()
		} else {
			msg = msg + ": " + re.Err.Error()
		}
	}
	return status.Error(code, msg)
}

// fromStatus rebuilds a collection failure from a call error. It returns nil
// when the error did not come from the collection itself.
func fromStatus(err error, trailer metadata.MD) *repository.Error {
	kinds := trailer.Get(kindTrailer)
	if len(kinds) == 0 {
		return nil
	}
	kind := repository.ParseKind(kinds[0])
	if kind == repository.KindUnknown {
		kind = repository.KindRepositoryError
	}
	var method string
	if m := trailer.Get(methodTrailer); len(m) > 0 {
		method = m[0]
	}
	msg := err.Error()
	if st, ok := status.FromError(err); ok {
		msg = st.Message()
	}
	return &repository.Error{Kind: kind, Method: method, Message: msg}
}
