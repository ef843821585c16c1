package compressor

import "fmt"

// InvalidParameterError reports a compression parameter outside its
// declared range. It is returned before any image data is touched.
type InvalidParameterError struct {
	Name   string
	Value  float64
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%g: %s", e.Name, e.Value, e.Reason)
}

func invalidParam(name string, value float64, reason string) *InvalidParameterError {
	return &InvalidParameterError{Name: name, Value: value, Reason: reason}
}

// DecodeError reports that the source image could not be read or parsed.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a failure encoding or writing the candidate artifact.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
