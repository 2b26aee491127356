package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStruct(t *testing.T) {
	extra := "  <b>note</b>  "
	s := struct {
		Reason string
		Extra  *string
	}{
		Reason: "  damaged <script>item</script>  ",
		Extra:  &extra,
	}

	SanitizeStruct(&s)

	assert.Equal(t, "damaged &lt;script&gt;item&lt;/script&gt;", s.Reason)
	assert.Equal(t, "&lt;b&gt;note&lt;/b&gt;", *s.Extra)
}

func TestSanitizeStruct_NonStructIsNoOp(t *testing.T) {
	s := "  untouched  "
	SanitizeStruct(&s)
	assert.Equal(t, "  untouched  ", s)

	SanitizeStruct(nil)
}

func TestValidateCurrency(t *testing.T) {
	cases := map[string]bool{
		"USD":  true,
		"VND":  true,
		"usd":  false,
		"US":   false,
		"USDT": false,
		"":     false,
	}
	for input, want := range cases {
		assert.Equal(t, want, currencyRe.MatchString(input), "input %q", input)
	}
}
