// Package sandbox runs submitted source code inside isolate boxes and
// reports a per-testcase verdict. It has no knowledge of the message bus;
// callers hand it a language, source, and testcase list and get verdicts
// back.
package sandbox

import (
	"fmt"
	"strings"
)

// Language is a closed variant: every supported language is a named value
// with its own compile/run hooks, not an interface hierarchy.
type Language string

const (
	LangPython Language = "python"
	LangCpp    Language = "cpp"
)

// langConfig describes how to lay out and run one language's source inside
// a box. Grounded on judgeLangConfigs in the teacher's judge_client.go,
// adapted from go-judge JSON commands to isolate argv construction.
type langConfig struct {
	SourceName string
	// CompileArgs is the real compile step for compiled languages (cpp) and
	// a syntax-check pass for interpreted ones (python: py_compile).
	CompileArgs []string
	RunArgs     []string
}

var langConfigs = map[Language]langConfig{
	LangPython: {
		SourceName:  "main.py",
		CompileArgs: []string{"/usr/bin/python3", "-m", "py_compile", "main.py"},
		RunArgs:     []string{"/usr/bin/python3", "main.py"},
	},
	LangCpp: {
		SourceName:  "main.cpp",
		CompileArgs: []string{"/usr/bin/g++", "-std=c++17", "-O2", "-o", "main", "main.cpp"},
		RunArgs:     []string{"./main"},
	},
}

// ParseLanguage normalizes a wire language string into a supported Language.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "python3", "py":
		return LangPython, nil
	case "cpp", "c++", "g++":
		return LangCpp, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

func (l Language) config() (langConfig, error) {
	cfg, ok := langConfigs[l]
	if !ok {
		return langConfig{}, fmt.Errorf("unsupported language %q", l)
	}
	return cfg, nil
}
