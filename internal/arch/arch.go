// Package arch holds the fixed set of detection and recognition
// architectures the pipeline can build, together with their default
// preprocessing configuration.
package arch

import (
	"fmt"
	"strings"
)

// Name identifies a registered architecture, e.g. "db_resnet50".
type Name string

// Task is the pipeline stage an architecture serves.
type Task int

const (
	TaskDetection Task = iota
	TaskRecognition
)

func (t Task) String() string {
	switch t {
	case TaskDetection:
		return "detection"
	case TaskRecognition:
		return "recognition"
	default:
		return fmt.Sprintf("task(%d)", int(t))
	}
}

// ParseTask converts "detection"/"recognition" (or "det"/"reco") to a Task.
func ParseTask(s string) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detection", "det":
		return TaskDetection, nil
	case "recognition", "reco", "rec":
		return TaskRecognition, nil
	}
	return 0, fmt.Errorf("unknown task %q", s)
}

// Family groups architectures that share post-processing and model class.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyDBNet
	FamilyLinkNet
	FamilyFAST
	FamilyCRNN
	FamilySAR
	FamilyMASTER
	FamilyViTSTR
	FamilyPARSeq
)

var familyNames = map[Family]string{
	FamilyUnknown: "unknown",
	FamilyDBNet:   "dbnet",
	FamilyLinkNet: "linknet",
	FamilyFAST:    "fast",
	FamilyCRNN:    "crnn",
	FamilySAR:     "sar",
	FamilyMASTER:  "master",
	FamilyViTSTR:  "vitstr",
	FamilyPARSeq:  "parseq",
}

func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// Task returns the stage served by models of this family.
func (f Family) Task() Task {
	switch f {
	case FamilyDBNet, FamilyLinkNet, FamilyFAST:
		return TaskDetection
	default:
		return TaskRecognition
	}
}

// CTC reports whether the family decodes with connectionist temporal
// classification rather than an attention decoder terminated by EOS.
func (f Family) CTC() bool {
	return f == FamilyCRNN
}

// Shape is the expected model input in height, width, channels order.
type Shape struct {
	H int `json:"height" yaml:"height"`
	W int `json:"width"  yaml:"width"`
	C int `json:"channels" yaml:"channels"`
}

// Valid reports whether all dimensions are positive.
func (s Shape) Valid() bool {
	return s.H > 0 && s.W > 0 && s.C > 0
}

// Config is the default preprocessing and weight configuration of an
// architecture. It is copied by value and never shared mutably.
type Config struct {
	Mean       [3]float64 `json:"mean"        yaml:"mean"`
	Std        [3]float64 `json:"std"         yaml:"std"`
	InputShape Shape      `json:"input_shape" yaml:"input_shape"`
	BatchSize  int        `json:"batch_size"  yaml:"batch_size"`
	URL        string     `json:"url"         yaml:"url"`
	Vocab      string     `json:"vocab,omitempty" yaml:"vocab,omitempty"`
}

// Descriptor binds an architecture name to its family and default config.
type Descriptor struct {
	Name   Name   `json:"name"   yaml:"name"`
	Family Family `json:"-"      yaml:"-"`
	Task   Task   `json:"-"      yaml:"-"`
	Config Config `json:"config" yaml:"config"`
}

// UnknownArchitectureError is returned when a name is not registered in
// the active registry.
type UnknownArchitectureError struct {
	Name    string
	Backend Backend
}

func (e *UnknownArchitectureError) Error() string {
	return fmt.Sprintf("unknown architecture '%s' (backend %s)", e.Name, e.Backend)
}
