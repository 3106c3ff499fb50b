package types

import (
	"math"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func v() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateCandidate enforces the design/§8's invariant that strength, confidence,
// and every quality sub-score lie in [0,1], plus the required identity fields.
// Violations are returned as validator.ValidationErrors; callers classify
// the error as perrors.Validation and drop the candidate.
func ValidateCandidate(c *SignalCandidate) error {
	return v().Struct(c)
}

// ValidateParameterSet checks that every parameter value is finite; it does not
// constrain ranges since parameter semantics vary per name.
func ValidateParameterSet(p *ParameterSet) error {
	for name, val := range p.Parameters {
		if val != val { // NaN
			return &rangeError{field: name, reason: "NaN"}
		}
		if math.IsInf(val, 0) {
			return &rangeError{field: name, reason: "infinite"}
		}
	}
	return nil
}

type rangeError struct {
	field  string
	reason string
}

func (e *rangeError) Error() string {
	return "parameter " + e.field + ": " + e.reason
}
