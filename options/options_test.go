package options

import (
	"errors"
	"testing"
)

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		in      any
		want    any
		wantErr bool
	}{
		{"number from float", Definition{Type: KindNumber}, 5.0, 5.0, false},
		{"number from string", Definition{Type: KindNumber}, "12", 12.0, false},
		{"number below min", Definition{Type: KindNumber, Validation: Validation{Min: Float64(1)}}, 0.0, nil, true},
		{"number above max", Definition{Type: KindNumber, Validation: Validation{Max: Float64(10)}}, 11, nil, true},
		{"not a number", Definition{Type: KindNumber}, "abc", nil, true},
		{"bool", Definition{Type: KindBoolean}, true, true, false},
		{"bool from string", Definition{Type: KindBoolean}, "false", false, false},
		{"enum ok", Definition{Type: KindEnum, Choices: []string{"a", "b"}}, "b", "b", false},
		{"enum bad", Definition{Type: KindEnum, Choices: []string{"a", "b"}}, "c", nil, true},
		{"nil uses default", Definition{Type: KindString, Default: "hi"}, nil, "hi", false},
		{"nil required", Definition{Type: KindString, Validation: Validation{Required: true}}, nil, nil, true},
		{"blank required", Definition{Type: KindCurrency, Validation: Validation{Required: true}}, "  ", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.def.Validate(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	defs := map[string]Definition{
		"count":   {Type: KindNumber, Default: 5.0, Validation: Validation{Min: Float64(1)}},
		"enabled": {Type: KindBoolean, Default: true},
		"message": {Type: KindString, Default: "hello"},
	}
	vals, err := Resolve(defs, map[string]any{"count": 0.0, "message": "custom", "stray": 1})
	if err == nil {
		t.Fatal("expected validation error for count")
	}
	if vals.Int("count") != 5 {
		t.Fatalf("count = %d, want default 5", vals.Int("count"))
	}
	if !vals.Bool("enabled") {
		t.Fatal("enabled should default to true")
	}
	if vals.String("message") != "custom" {
		t.Fatalf("message = %q", vals.String("message"))
	}
	if _, ok := vals["stray"]; ok {
		t.Fatal("undefined values must be dropped")
	}
}
