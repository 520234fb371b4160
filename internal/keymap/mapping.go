package keymap

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// KeyMapping remaps one physical key to an output key or action.
type KeyMapping struct {
	Input  string `json:"input" validate:"required,max=64,keytoken"`
	Output string `json:"output" validate:"required,max=64,keytoken"`
}

func (m KeyMapping) String() string { return m.Input + " -> " + m.Output }

// SafeDefault is the single mapping committed when nothing else validates.
var SafeDefault = []KeyMapping{{Input: "caps", Output: "esc"}}

var (
	mappingValidate *validator.Validate
	keyTokenRe      = regexp.MustCompile(`^[^\s();"]+$`)
)

func init() {
	mappingValidate = validator.New()
	_ = mappingValidate.RegisterValidation("keytoken", validateKeyToken) //nolint:errcheck // static tag name
}

// validateKeyToken rejects values that would break the s-expression
// structure of the generated file.
func validateKeyToken(fl validator.FieldLevel) bool {
	return keyTokenRe.MatchString(fl.Field().String())
}

// Validate checks the mapping's fields.
func (m KeyMapping) Validate() error {
	if err := mappingValidate.Struct(m); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidMapping, m.String(), err)
	}
	return nil
}

// Normalize validates mappings, keeps the last mapping for each input and
// sorts the result by input.
func Normalize(mappings []KeyMapping) ([]KeyMapping, error) {
	byInput := make(map[string]KeyMapping, len(mappings))
	for _, m := range mappings {
		m.Input = strings.TrimSpace(m.Input)
		m.Output = strings.TrimSpace(m.Output)
		if err := m.Validate(); err != nil {
			return nil, err
		}
		byInput[m.Input] = m
	}

	out := make([]KeyMapping, 0, len(byInput))
	for _, m := range byInput {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Input < out[j].Input })
	return out, nil
}

// Equal reports whether two normalized mapping sets are identical.
func Equal(a, b []KeyMapping) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
