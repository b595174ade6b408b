package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_KnownDigest(t *testing.T) {
	assert.Equal(t, "B41AB19144A0A94A02D36EFEF0782AA5", Sign(map[string]string{"a": "1", "b": "2"}, "K"))
}

func TestSign_OrderInvariant(t *testing.T) {
	a := Sign(map[string]string{"b": "2", "a": "1"}, "K")
	b := Sign(map[string]string{"a": "1", "b": "2"}, "K")
	assert.Equal(t, a, b)
}

func TestSign_SkipsSignAndBlankValues(t *testing.T) {
	want := Sign(map[string]string{"a": "1", "b": "2"}, "K")
	got := Sign(map[string]string{"a": " 1 ", "b": "2", "c": "  ", "sign": "OLD"}, "K")
	assert.Equal(t, want, got)
}

func TestSign_SecretMatters(t *testing.T) {
	p := map[string]string{"a": "1"}
	assert.NotEqual(t, Sign(p, "K1"), Sign(p, "K2"))
}
