package experiments

import (
	"strings"
	"testing"
)

func TestEnhance(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		v        Variation
		animated bool
		want     string
	}{
		{
			name:   "placeholder substituted",
			prompt: "a cat",
			v:      Variation{Template: "Draw: {prompt}"},
			want:   "Draw: a cat",
		},
		{
			name:   "every placeholder substituted",
			prompt: "a cat",
			v:      Variation{Template: "{prompt}, then refine {prompt}"},
			want:   "a cat, then refine a cat",
		},
		{
			name:   "identity template",
			prompt: "a cat",
			v:      Variation{Template: "{prompt}"},
			want:   "a cat",
		},
		{
			name:   "missing placeholder appends prompt",
			prompt: "a cat",
			v:      Variation{Template: "Be creative."},
			want:   "Be creative.\n\na cat",
		},
		{
			name:   "empty template",
			prompt: "a cat",
			v:      Variation{},
			want:   "a cat",
		},
		{
			name:     "animated suffix",
			prompt:   "a cat",
			v:        Variation{Template: "Draw: {prompt}"},
			animated: true,
			want:     "Draw: a cat\n\n" + AnimationInstruction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Enhance(tt.prompt, tt.v, tt.animated)
			if got != tt.want {
				t.Fatalf("Enhance() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnhanceAnimationAppendedOnce(t *testing.T) {
	got := Enhance("a cat", Variation{Template: "Draw: {prompt}"}, true)
	if n := strings.Count(got, AnimationInstruction); n != 1 {
		t.Fatalf("animation instruction appears %d times, want 1", n)
	}
}

func TestEnhanceDeterministic(t *testing.T) {
	v := Variation{Template: "Sketch {prompt} in {prompt} style"}
	first := Enhance("a robot", v, true)
	for i := 0; i < 10; i++ {
		if got := Enhance("a robot", v, true); got != first {
			t.Fatalf("Enhance not deterministic: %q != %q", got, first)
		}
	}
}

func TestLookupVariation(t *testing.T) {
	v, ok := LookupVariation("Step-By-Step")
	if !ok {
		t.Fatal("expected step-by-step technique")
	}
	if !strings.Contains(v.Template, PromptPlaceholder) {
		t.Fatalf("template %q missing placeholder", v.Template)
	}

	base, ok := LookupVariation("baseline")
	if !ok || !base.IsBaseline() {
		t.Fatalf("baseline lookup = %+v, %v", base, ok)
	}
	if got := Enhance("a cat", base, false); got != "a cat" {
		t.Fatalf("baseline Enhance() = %q, want identity", got)
	}

	if _, ok := LookupVariation("nope"); ok {
		t.Fatal("unexpected technique for unknown name")
	}
}

func TestBuiltinVariationsReturnsCopy(t *testing.T) {
	a := BuiltinVariations()
	a[0].Template = "mutated"
	b := BuiltinVariations()
	if b[0].Template == "mutated" {
		t.Fatal("BuiltinVariations exposed internal catalogue")
	}
}
