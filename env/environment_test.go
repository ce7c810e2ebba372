package env_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lablup/backend.ai-kernel-runner/env"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		in          string
		name, value string
		ok          bool
	}{
		{in: "FOO=bar", name: "FOO", value: "bar", ok: true},
		{in: "FOO=bar=baz", name: "FOO", value: "bar=baz", ok: true},
		{in: "FOO=", name: "FOO", value: "", ok: true},
		{in: "FOO", ok: false},
		{in: "=bar", ok: false},
	}

	for _, test := range tests {
		name, value, ok := env.Split(test.in)
		if name != test.name || value != test.value || ok != test.ok {
			t.Errorf("Split(%q) = (%q, %q, %t), want (%q, %q, %t)",
				test.in, name, value, ok, test.name, test.value, test.ok)
		}
	}
}

func TestFromSliceRoundTrip(t *testing.T) {
	e := env.FromSlice([]string{"THIS=that", "LLAMAS=rock", "bad-line"})

	if got, want := e.Length(), 2; got != want {
		t.Errorf("e.Length() = %d, want %d", got, want)
	}

	want := []string{"LLAMAS=rock", "THIS=that"}
	if diff := cmp.Diff(want, e.ToSlice()); diff != "" {
		t.Errorf("e.ToSlice() diff (-want +got):\n%s", diff)
	}
}

func TestMergeMapOverrides(t *testing.T) {
	e := env.FromMap(map[string]string{"PATH": "/from/file", "HOME": "/home/work"})
	e.MergeMap(map[string]string{"PATH": "/from/lang"})

	if got, _ := e.Get("PATH"); got != "/from/lang" {
		t.Errorf(`e.Get("PATH") = %q, want "/from/lang"`, got)
	}
	if got, _ := e.Get("HOME"); got != "/home/work" {
		t.Errorf(`e.Get("HOME") = %q, want "/home/work"`, got)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	e := env.FromMap(map[string]string{"A": "1"})
	c := e.Copy()
	c.Set("A", "2")

	if got, _ := e.Get("A"); got != "1" {
		t.Errorf("original mutated through copy: A = %q", got)
	}
}

func TestBootstrapMissingFile(t *testing.T) {
	e, err := env.Bootstrap(filepath.Join(t.TempDir(), "environ.txt"))
	if err != nil {
		t.Fatalf("Bootstrap() = %v, want nil for a missing file", err)
	}
	if got, want := e.Length(), 0; got != want {
		t.Errorf("e.Length() = %d, want %d", got, want)
	}
}

func TestBootstrapReadsAndExports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environ.txt")
	content := "KERNEL_TEST_BOOTSTRAP=yes\nCLUSTER_ROLE=worker\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KERNEL_TEST_BOOTSTRAP", "")

	e, err := env.Bootstrap(path)
	if err != nil {
		t.Fatalf("Bootstrap() = %v", err)
	}

	if got, _ := e.Get("CLUSTER_ROLE"); got != "worker" {
		t.Errorf(`e.Get("CLUSTER_ROLE") = %q, want "worker"`, got)
	}

	// Variables are exported into the agent's own environment too.
	if got := os.Getenv("KERNEL_TEST_BOOTSTRAP"); got != "yes" {
		t.Errorf(`os.Getenv("KERNEL_TEST_BOOTSTRAP") = %q, want "yes"`, got)
	}
}
