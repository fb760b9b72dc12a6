package executor

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name    string
		command string
		want    []string
	}{
		{"plain", "pytest -q tests/", []string{"pytest", "-q", "tests/"}},
		{"single quotes", "echo 'hello world'", []string{"echo", "hello world"}},
		{"double quotes", `grep "a b" file.txt`, []string{"grep", "a b", "file.txt"}},
		{"escaped quote in double quotes", `echo "say \"hi\""`, []string{"echo", `say "hi"`}},
		{"backslash escape", `echo a\ b`, []string{"echo", "a b"}},
		{"collapsed whitespace", "go   test\t./...", []string{"go", "test", "./..."}},
		{"empty quoted token", "cmd ''", []string{"cmd", ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Tokenize(tc.command)
			if err != nil {
				t.Fatalf("tokenize %q: %v", tc.command, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("tokenize %q = %#v, want %#v", tc.command, got, tc.want)
			}
		})
	}
}

func TestTokenizeErrors(t *testing.T) {
	for _, command := range []string{"echo 'unterminated", `echo "unterminated`, `echo trailing\`} {
		if _, err := Tokenize(command); err == nil {
			t.Fatalf("expected error for %q", command)
		}
	}
}
