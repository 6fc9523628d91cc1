package script

import (
	"strings"
	"testing"
)

func TestRemoveTopBlankLines(t *testing.T) {
	got := RemoveTopBlankLines([]string{"", "  \t", "#!/bin/bash", "", "echo hi"})
	want := []string{"#!/bin/bash", "", "echo hi"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lines = %q, want %q", got, want)
		}
	}
	if got := RemoveTopBlankLines([]string{"", "   "}); got != nil {
		t.Fatalf("all-blank script = %q", got)
	}
}

func TestPreprocessChain(t *testing.T) {
	chain, err := PreprocessChain([]string{"remove_top_blank_lines"})
	if err != nil {
		t.Fatalf("PreprocessChain: %v", err)
	}
	got := Preprocess(chain, []string{"", "#!/bin/sh", "true"})
	if len(got) != 2 || got[0] != "#!/bin/sh" {
		t.Fatalf("lines = %q", got)
	}

	if _, err := PreprocessChain([]string{"reticulate_splines"}); err == nil {
		t.Fatal("unknown preprocessor accepted")
	}
}

func TestPreprocessOrder(t *testing.T) {
	drop := func(lines []string) []string { return lines[1:] }
	tag := func(lines []string) []string {
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = l + "!"
		}
		return out
	}
	got := Preprocess([]Preprocessor{drop, tag}, []string{"a", "b", "c"})
	if strings.Join(got, " ") != "b! c!" {
		t.Fatalf("lines = %q", got)
	}
}
