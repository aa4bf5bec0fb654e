package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Status is the wire name of a response variant.
type Status string

const (
	StatusSetupError      Status = "SETUP_ERROR"
	StatusParseError      Status = "PARSE_ERROR"
	StatusEvaluationError Status = "EVALUATION_ERROR"
	StatusRuntimeFault    Status = "RUNTIME_FAULT"
	StatusSuccess         Status = "SUCCESS"
)

// Response is the outcome of an evaluation. It is one of *SetupError,
// *ParseError, *EvaluationError, *RuntimeFault or *Success.
type Response interface {
	Status() Status
	IsError() bool
	// Text is the error message, or the output of a Success.
	Text() string
	response()
}

// SetupError means the session could not be prepared, for instance because
// the database connection failed. It is also the error of a failed Open.
type SetupError struct {
	Message string
}

func (r *SetupError) Error() string { return r.Message }

// ParseError means a unit of the script was rejected by the runtime.
type ParseError struct {
	Message string
}

// EvaluationError means user code raised an error.
type EvaluationError struct {
	Message  string
	Duration time.Duration
}

// RuntimeFault means the runtime itself failed, or broke its contract.
type RuntimeFault struct {
	Message string
}

// Success is a completed evaluation.
type Success struct {
	Output      string
	ErrorOutput string
	Duration    time.Duration

	augment func() (*AugmentedOutput, error)
	once    sync.Once
	aug     *AugmentedOutput
}

// NewSuccess creates a Success whose augmentation is produced by augment on
// first use. augment may be nil.
func NewSuccess(output, errorOutput string, d time.Duration, augment func() (*AugmentedOutput, error)) *Success {
	return &Success{Output: output, ErrorOutput: errorOutput, Duration: d, augment: augment}
}

// Augmentation returns the richer rendering of the final value, or nil.
// It is computed at most once.
func (s *Success) Augmentation() *AugmentedOutput {
	s.once.Do(func() {
		if s.augment == nil {
			return
		}
		aug, err := s.augment()
		if err == nil {
			s.aug = aug
		}
	})
	return s.aug
}

// AugmentedOutput is an alternative rendering of a result for clients that
// understand Type.
type AugmentedOutput struct {
	Output string `json:"output"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// GridType is the augmentation type of tabular results.
const GridType = "json/grid"

func (*SetupError) Status() Status      { return StatusSetupError }
func (*ParseError) Status() Status      { return StatusParseError }
func (*EvaluationError) Status() Status { return StatusEvaluationError }
func (*RuntimeFault) Status() Status    { return StatusRuntimeFault }
func (*Success) Status() Status         { return StatusSuccess }

func (*SetupError) IsError() bool      { return true }
func (*ParseError) IsError() bool      { return true }
func (*EvaluationError) IsError() bool { return true }
func (*RuntimeFault) IsError() bool    { return true }
func (*Success) IsError() bool         { return false }

func (r *SetupError) Text() string      { return r.Message }
func (r *ParseError) Text() string      { return r.Message }
func (r *EvaluationError) Text() string { return r.Message }
func (r *RuntimeFault) Text() string    { return r.Message }
func (r *Success) Text() string         { return r.Output }

func (*SetupError) response()      {}
func (*ParseError) response()      {}
func (*EvaluationError) response() {}
func (*RuntimeFault) response()    {}
func (*Success) response()         {}

type wireResponse struct {
	EvaluationStatus Status           `json:"evaluationStatus"`
	IsError          bool             `json:"isError"`
	Error            string           `json:"error,omitempty"`
	Output           string           `json:"output,omitempty"`
	ErrorOutput      string           `json:"errorOutput,omitempty"`
	DurationInMs     *int64           `json:"durationInMs,omitempty"`
	AugmentedOutput  *AugmentedOutput `json:"augmentedOutput,omitempty"`
}

// Encode serializes a response. A Success is encoded with its augmentation
// resolved.
func Encode(r Response) ([]byte, error) {
	w := wireResponse{EvaluationStatus: r.Status(), IsError: r.IsError()}
	switch r := r.(type) {
	case *SetupError:
		w.Error = r.Message
	case *ParseError:
		w.Error = r.Message
	case *EvaluationError:
		w.Error = r.Message
		w.DurationInMs = millis(r.Duration)
	case *RuntimeFault:
		w.Error = r.Message
	case *Success:
		w.Output = r.Output
		w.ErrorOutput = r.ErrorOutput
		w.DurationInMs = millis(r.Duration)
		w.AugmentedOutput = r.Augmentation()
	default:
		return nil, fmt.Errorf("unknown response type %T", r)
	}
	return json.Marshal(w)
}

// Decode parses a response produced by Encode.
func Decode(data []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	var d time.Duration
	if w.DurationInMs != nil {
		d = time.Duration(*w.DurationInMs) * time.Millisecond
	}

	switch w.EvaluationStatus {
	case StatusSetupError:
		return &SetupError{Message: w.Error}, nil
	case StatusParseError:
		return &ParseError{Message: w.Error}, nil
	case StatusEvaluationError:
		return &EvaluationError{Message: w.Error, Duration: d}, nil
	case StatusRuntimeFault:
		return &RuntimeFault{Message: w.Error}, nil
	case StatusSuccess:
		var augment func() (*AugmentedOutput, error)
		if aug := w.AugmentedOutput; aug != nil {
			augment = func() (*AugmentedOutput, error) { return aug, nil }
		}
		return NewSuccess(w.Output, w.ErrorOutput, d, augment), nil
	default:
		return nil, fmt.Errorf("unknown evaluation status %q", w.EvaluationStatus)
	}
}

func millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
