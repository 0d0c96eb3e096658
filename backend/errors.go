package backend

import (
	"errors"
	"fmt"

	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

// ErrNotSupported is matched by every error meaning "the target cannot express this rule".
var ErrNotSupported = errors.New("not supported by target")

// UnsupportedFieldError: field không có trong bảng mapping.
type UnsupportedFieldError struct {
	Field string
}

func (e *UnsupportedFieldError) Error() string {
	return fmt.Sprintf("field %q has no target mapping", e.Field)
}

func (e *UnsupportedFieldError) Is(target error) bool { return target == ErrNotSupported }

// UnsupportedFeatureError: target không biểu diễn được hình dạng giá trị này.
type UnsupportedFeatureError struct {
	Field  string
	Value  string
	Reason string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("field %q value %q: %s", e.Field, e.Value, e.Reason)
}

func (e *UnsupportedFeatureError) Is(target error) bool { return target == ErrNotSupported }

// UnsupportedSyntaxError: query sau render chứa token bị cấm.
type UnsupportedSyntaxError struct {
	Token  string
	Offset int
}

func (e *UnsupportedSyntaxError) Error() string {
	return fmt.Sprintf("forbidden token %q at offset %d", e.Token, e.Offset)
}

func (e *UnsupportedSyntaxError) Is(target error) bool { return target == ErrNotSupported }

type Kind string

const (
	KindMapping        Kind = "mapping"
	KindExpressiveness Kind = "expressiveness"
	KindSyntax         Kind = "syntax"
	KindParse          Kind = "parse"
	KindOther          Kind = "other"
)

// ErrorKind phân loại lỗi dịch cho báo cáo / HTTP response.
func ErrorKind(err error) Kind {
	var (
		fe *UnsupportedFieldError
		ve *UnsupportedFeatureError
		se *UnsupportedSyntaxError
		pe *sigma.ParseError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return KindMapping
	case errors.As(err, &ve):
		return KindExpressiveness
	case errors.As(err, &se):
		return KindSyntax
	case errors.As(err, &pe):
		return KindParse
	default:
		return KindOther
	}
}
