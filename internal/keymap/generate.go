package keymap

import (
	"fmt"
	"strings"
)

const (
	generatedHeader = ";; Generated by keymapd. Changes made here are replaced on the next save."
	baseLayer       = "base"
)

// Preamble is the defcfg block every generated configuration starts with.
const Preamble = `(defcfg
  process-unmapped-keys yes
  danger-enable-cmd no
)`

// Generate renders mappings as engine configuration text. The input is
// normalised first; invalid mappings are an error. Output is byte-for-byte
// deterministic for a given mapping set.
func Generate(mappings []KeyMapping) (string, error) {
	norm, err := Normalize(mappings)
	if err != nil {
		return "", err
	}
	return render(norm), nil
}

// SafeDefaultText is the configuration for SafeDefault.
func SafeDefaultText() string {
	return render(SafeDefault)
}

func render(norm []KeyMapping) string {
	var b strings.Builder

	b.WriteString(generatedHeader)
	b.WriteString("\n")
	for _, m := range norm {
		fmt.Fprintf(&b, ";; mapping: %s\n", m)
	}
	b.WriteString("\n")
	b.WriteString(Preamble)
	b.WriteString("\n\n")

	b.WriteString("(defsrc\n")
	for _, m := range norm {
		fmt.Fprintf(&b, "  %s\n", m.Input)
	}
	b.WriteString(")\n\n")

	fmt.Fprintf(&b, "(deflayer %s\n", baseLayer)
	for _, m := range norm {
		fmt.Fprintf(&b, "  %s\n", m.Output)
	}
	b.WriteString(")\n")

	return b.String()
}

// Parse recovers the mapping set from configuration text by pairing the
// defsrc keys with the first deflayer. Identity mappings are kept.
func Parse(text string) ([]KeyMapping, error) {
	forms, err := parseForms(text)
	if err != nil {
		return nil, err
	}

	var (
		src, layer       []node
		haveSrc, haveLay bool
	)
	for _, f := range forms {
		switch f.head() {
		case "defsrc":
			if !haveSrc {
				src, haveSrc = f.list[1:], true
			}
		case "deflayer":
			if !haveLay && len(f.list) >= 2 {
				layer, haveLay = f.list[2:], true
			}
		}
	}

	if !haveSrc {
		return nil, fmt.Errorf("%w: no defsrc block", ErrParse)
	}
	if !haveLay {
		return nil, fmt.Errorf("%w: no deflayer block", ErrParse)
	}
	if len(src) != len(layer) {
		return nil, fmt.Errorf("%w: defsrc has %d keys but deflayer has %d", ErrParse, len(src), len(layer))
	}

	out := make([]KeyMapping, 0, len(src))
	for i := range src {
		out = append(out, KeyMapping{Input: src[i].text(), Output: layer[i].text()})
	}
	return Normalize(out)
}
