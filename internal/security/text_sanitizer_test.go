package security

import "testing"

func TestTextSanitizer_StripsTags(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Run 5km", "Run 5km"},
		{"bold", "<b>Run</b> 5km", "Run 5km"},
		{"script removed with content", "Read<script>alert(1)</script>", "Read"},
		{"attributes", `<a href="javascript:alert(1)" onclick="x()">Call mom</a>`, "Call mom"},
		{"img", `<img src=x onerror=alert(1)>Stretch`, "Stretch"},
		{"ampersand kept", "Tom & Jerry", "Tom & Jerry"},
		{"japanese", "  読書 30分  ", "読書 30分"},
		{"only markup", "<p></p>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_EmptyInput(t *testing.T) {
	if got := NewTextSanitizer().Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
}

func TestTextSanitizer_RemovesControlCharacters(t *testing.T) {
	got := NewTextSanitizer().Sanitize("a\x00b\x07c\nd")
	if got != "abc\nd" {
		t.Errorf("Sanitize = %q, want %q", got, "abc\nd")
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}
