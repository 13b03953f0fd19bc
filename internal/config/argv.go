package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

// argvToken is one word being assembled; literal words skip $VAR expansion.
type argvToken struct {
	text    strings.Builder
	literal bool
	started bool
}

// ParseArgv splits a command string into argv with shell-like quoting.
// $VAR and ${VAR} expand from the environment unless the word is entirely
// single-quoted. A blank or #-commented input yields nil.
func ParseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var (
		argv   []string
		word   argvToken
		quote  rune
		escape bool
	)
	word.literal = true

	emit := func() {
		if word.started {
			text := word.text.String()
			if !word.literal {
				text = os.ExpandEnv(text)
			}
			argv = append(argv, text)
		}
		word = argvToken{literal: true}
	}
	put := func(r rune, literal bool) {
		word.text.WriteRune(r)
		word.started = true
		if !literal {
			word.literal = false
		}
	}

	for _, r := range input {
		switch {
		case escape:
			put(r, true)
			escape = false
		case quote == '\'':
			if r == quote {
				quote = 0
				continue
			}
			put(r, true)
		case r == '\\':
			escape = true
		case quote == '"':
			if r == quote {
				quote = 0
				continue
			}
			put(r, false)
		case r == '\'' || r == '"':
			quote = r
			word.started = true
		case unicode.IsSpace(r):
			emit()
		default:
			put(r, false)
		}
	}

	if escape {
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}

	emit()
	return argv, nil
}
