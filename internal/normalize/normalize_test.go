package normalize

import (
	"math"
	"testing"
)

func TestName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Luz & Câmera Ltda.", "luz camera ltda"},
		{"  JOÃO   da Silva ", "joao da silva"},
		{"Produções-Áudio/Vídeo", "producoes audio video"},
		{"", ""},
		{"...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Name(tt.in); got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("12.345.678/0001-90"); got != "12345678000190" {
		t.Errorf("Digits() = %q", got)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical ignoring case and accents", "Luz & Câmera Ltda", "LUZ CAMERA", 1},
		{"half shared", "Luz Camera", "Luz Som", 0.5},
		{"disjoint", "Luz Camera", "Catering Bom", 0},
		{"empty side", "", "Luz", 0},
		{"only company forms", "Ltda ME", "Ltda", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
