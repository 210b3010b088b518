package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	cases := map[string]string{
		"Hello World":        "hello-world",
		"Café Culture 2024!": "cafe-culture-2024",
		"  Go   & Rust  ":    "go-rust",
		"Tiếng Việt":         "tieng-viet",
		"---":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Make(in), in)
	}
}
