// Package highlight turns source text into inline-styled HTML with chroma.
//
// The output needs no stylesheet and no JavaScript: colours are emitted as
// style attributes on the generated spans.
package highlight

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// ErrUnknownLanguage is returned when no lexer exists for a language name.
var ErrUnknownLanguage = errors.New("unknown language")

// Chroma highlights with a fixed style. It is safe for concurrent use.
type Chroma struct {
	style *chroma.Style
}

// NewChroma returns a highlighter using the named style. Unknown names fall
// back to chroma's default style.
func NewChroma(theme string) *Chroma {
	return &Chroma{style: styles.Get(theme)}
}

// StyleName returns the name of the active style.
func (c *Chroma) StyleName() string {
	return c.style.Name
}

// Highlight renders content as HTML using the lexer registered for language.
func (c *Chroma) Highlight(content, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, language)
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return "", fmt.Errorf("failed to tokenise %s: %w", language, err)
	}

	formatter := chromahtml.New(
		chromahtml.WithClasses(false),
		chromahtml.TabWidth(4),
	)
	var buf bytes.Buffer
	if err := formatter.Format(&buf, c.style, iterator); err != nil {
		return "", fmt.Errorf("failed to format %s: %w", language, err)
	}
	return buf.String(), nil
}
