package sigma

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedModifier: modifier không thể biểu diễn bằng text query (re, cidr, lt, ...).
	ErrUnsupportedModifier = errors.New("unsupported modifier")
	// ErrAggregation: condition có phần aggregation ("| count() > 5").
	ErrAggregation = errors.New("aggregation conditions are not supported")

	ErrUnknownSearch = errors.New("unknown search identifier")
	ErrNoDetection   = errors.New("missing detection")
)

// ParseError gắn rule id vào lỗi phát sinh khi dựng cây biểu thức.
type ParseError struct {
	RuleID string
	Err    error
}

func (e *ParseError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("parse rule: %v", e.Err)
	}
	return fmt.Sprintf("parse rule %s: %v", e.RuleID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
