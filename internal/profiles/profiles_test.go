package profiles

import (
	"strings"
	"testing"
)

type namedProfile string

func (n namedProfile) Name() string { return string(n) }

type panickyNamed struct{}

func (panickyNamed) Name() string { panic("boom") }

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		sel  Selection
		want string
	}{
		{"plain string", ByName("modo_programador"), Programmer},
		{"string with spaces", ByName("  modo_consultor "), Consultant},
		{"mapping", ByMapping{"name": "modo_consultor"}, Consultant},
		{"named object", ByNamed{Value: namedProfile("modo_programador")}, Programmer},
		{"unknown string", ByName("modo_inexistente"), General},
		{"case differs", ByName("MODO_PROGRAMADOR"), General},
		{"mapping without name", ByMapping{"label": "x"}, General},
		{"mapping wrong type", ByMapping{"name": 42}, General},
		{"nil named", ByNamed{}, General},
		{"panicking named", ByNamed{Value: panickyNamed{}}, General},
		{"nil selection", nil, General},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.sel); got != tc.want {
				t.Fatalf("Resolve(%v) = %q, want %q", tc.sel, got, tc.want)
			}
		})
	}
}

func TestPromptForUnknownUsesDefault(t *testing.T) {
	if PromptFor("nope") != PromptFor(General) {
		t.Fatalf("unknown profile should map to the general prompt")
	}
	if PromptFor(Programmer) == PromptFor(General) {
		t.Fatalf("programmer prompt should differ from the general prompt")
	}
	if !strings.Contains(PromptFor(Consultant), "Modo Consultor") {
		t.Fatalf("consultant prompt missing persona header")
	}
}

func TestListAndSeedsAgree(t *testing.T) {
	list := List()
	seeds := Seeds()
	if len(list) != 3 || len(seeds) != 3 {
		t.Fatalf("expected three profiles, got %d list / %d seeds", len(list), len(seeds))
	}
	for i := range list {
		if list[i].Name != seeds[i].Name {
			t.Fatalf("order mismatch at %d: %s vs %s", i, list[i].Name, seeds[i].Name)
		}
		if seeds[i].Description == "" {
			t.Fatalf("seed %s has empty description", seeds[i].Name)
		}
	}
	list[0].Name = "mutated"
	if List()[0].Name == "mutated" {
		t.Fatalf("List must return a copy")
	}
}

func TestWelcomeText(t *testing.T) {
	want := "**GaMi-AI Ativado.**\nModo: `modo_geral`"
	if got := WelcomeText(General); got != want {
		t.Fatalf("WelcomeText = %q, want %q", got, want)
	}
}
