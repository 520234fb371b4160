package keymap

import (
	"fmt"
	"strings"
)

// node is an atom or a parenthesised list in configuration text.
type node struct {
	atom string
	list []node
	// isList distinguishes "()" from the empty atom.
	isList bool
	line   int
}

func (n node) head() string {
	if !n.isList || len(n.list) == 0 {
		return ""
	}
	return n.list[0].atom
}

// text renders a node back to source form on a single line.
func (n node) text() string {
	if !n.isList {
		return n.atom
	}
	parts := make([]string, len(n.list))
	for i, c := range n.list {
		parts[i] = c.text()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// parseForms reads the top-level forms of src. Comments start with ";;" and
// run to the end of the line; "#| ... |#" block comments are skipped.
func parseForms(src string) ([]node, error) {
	p := &sexprParser{src: src, line: 1}
	var forms []node
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return forms, nil
		}
		if p.src[p.pos] == ')' {
			return nil, fmt.Errorf("%w: unbalanced parentheses: unexpected ')' on line %d", ErrParse, p.line)
		}
		n, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		forms = append(forms, n)
	}
}

type sexprParser struct {
	src  string
	pos  int
	line int
}

func (p *sexprParser) skipSpace() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\n':
			p.line++
			p.pos++
		case c == ' ' || c == '\t' || c == '\r':
			p.pos++
		case c == ';' && strings.HasPrefix(p.src[p.pos:], ";;"):
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
		case c == '#' && strings.HasPrefix(p.src[p.pos:], "#|"):
			end := strings.Index(p.src[p.pos+2:], "|#")
			if end < 0 {
				p.pos = len(p.src)
				return
			}
			p.line += strings.Count(p.src[p.pos:p.pos+2+end], "\n")
			p.pos += end + 4
		default:
			return
		}
	}
}

func (p *sexprParser) parseNode() (node, error) {
	if p.src[p.pos] == '(' {
		n := node{isList: true, line: p.line}
		p.pos++
		for {
			p.skipSpace()
			if p.pos >= len(p.src) {
				return node{}, fmt.Errorf("%w: unbalanced parentheses: list opened on line %d is never closed", ErrParse, n.line)
			}
			if p.src[p.pos] == ')' {
				p.pos++
				return n, nil
			}
			child, err := p.parseNode()
			if err != nil {
				return node{}, err
			}
			n.list = append(n.list, child)
		}
	}

	if p.src[p.pos] == '"' {
		start := p.pos
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] != '"' {
			p.pos++
		}
		if p.pos >= len(p.src) {
			return node{}, fmt.Errorf("%w: unterminated string on line %d", ErrParse, p.line)
		}
		p.pos++
		return node{atom: p.src[start:p.pos], line: p.line}, nil
	}

	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '(' || c == ')' {
			break
		}
		p.pos++
	}
	return node{atom: p.src[start:p.pos], line: p.line}, nil
}
