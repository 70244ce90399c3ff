package content

import (
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML chars", "<div>Hello</div>", "&lt;div&gt;Hello&lt;/div&gt;"},
		{"Quotes", `"Hello" 'World'`, "&#34;Hello&#34; &#39;World&#39;"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.expected {
				t.Errorf("Escape() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "<p>Hello World</p>"},
		{"Bold", "Hello **World**", "<p>Hello <strong>World</strong></p>"},
		{"Strikethrough", "~~gone~~", "<p><del>gone</del></p>"},
		{"Script stripped", "hi <script>alert(1)</script>", "<p>hi alert(1)</p>"},
		{"Autolink", "see https://example.com", `<p>see <a href="https://example.com" rel="nofollow">https://example.com</a></p>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.input); got != tt.expected {
				t.Errorf("Render() = %v, want %v", got, tt.expected)
			}
		})
	}
}
