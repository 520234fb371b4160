package ownership

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SignatureKind selects how a signature pattern is matched.
type SignatureKind string

const (
	// SignatureSubstring matches anywhere in the full command line.
	SignatureSubstring SignatureKind = "substring"
	// SignatureGlob matches any single argument as a doublestar glob.
	SignatureGlob SignatureKind = "glob"
	// SignatureRegex matches the full command line as a regular expression.
	SignatureRegex SignatureKind = "regex"
)

// Signature is a command-line pattern identifying engine processes that
// keymapd launched, for instance through its service definition.
type Signature struct {
	Name    string        `json:"name" yaml:"name"`
	Kind    SignatureKind `json:"kind" yaml:"kind"`
	Pattern string        `json:"pattern" yaml:"pattern"`
}

type compiledSignature struct {
	Signature
	re *regexp.Regexp
}

// SignatureSet is an ordered, compiled list of signatures.
type SignatureSet struct {
	sigs []compiledSignature
}

// NewSignatureSet compiles sigs. Signatures with an empty pattern are
// skipped; any invalid pattern fails the whole set.
func NewSignatureSet(sigs ...Signature) (*SignatureSet, error) {
	set := &SignatureSet{}
	for _, s := range sigs {
		if s.Pattern == "" {
			continue
		}
		c := compiledSignature{Signature: s}
		switch s.Kind {
		case SignatureSubstring:
		case SignatureGlob:
			if !doublestar.ValidatePattern(s.Pattern) {
				return nil, fmt.Errorf("%w: %s: bad glob %q", ErrInvalidSignature, s.Name, s.Pattern)
			}
		case SignatureRegex:
			re, err := regexp.Compile(s.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSignature, s.Name, err)
			}
			c.re = re
		default:
			return nil, fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidSignature, s.Name, s.Kind)
		}
		set.sigs = append(set.sigs, c)
	}
	return set, nil
}

// DefaultSignatures derives the built-in signatures from the engine's
// configuration path, its service label and the application bundle glob.
// Empty inputs produce no signature.
func DefaultSignatures(configPath, serviceLabel, bundleGlob string) []Signature {
	var sigs []Signature
	if configPath != "" {
		sigs = append(sigs, Signature{Name: "config_path", Kind: SignatureSubstring, Pattern: configPath})
	}
	if serviceLabel != "" {
		sigs = append(sigs, Signature{Name: "service_label", Kind: SignatureSubstring, Pattern: serviceLabel})
	}
	if bundleGlob != "" {
		sigs = append(sigs, Signature{Name: "bundle_path", Kind: SignatureGlob, Pattern: bundleGlob})
	}
	return sigs
}

// Match reports the name of the first signature matching cmdline.
func (s *SignatureSet) Match(cmdline string) (string, bool) {
	if s == nil || cmdline == "" {
		return "", false
	}
	for _, sig := range s.sigs {
		if sig.matches(cmdline) {
			return sig.Name, true
		}
	}
	return "", false
}

// Len returns the number of compiled signatures.
func (s *SignatureSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.sigs)
}

func (c compiledSignature) matches(cmdline string) bool {
	switch c.Kind {
	case SignatureSubstring:
		return strings.Contains(cmdline, c.Pattern)
	case SignatureRegex:
		return c.re.MatchString(cmdline)
	case SignatureGlob:
		for _, arg := range strings.Fields(cmdline) {
			// Flags may carry paths as --cfg=/path.
			if _, v, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
				arg = v
			}
			if ok, _ := doublestar.Match(c.Pattern, arg); ok { //nolint:errcheck // pattern validated at compile
				return true
			}
		}
	}
	return false
}
