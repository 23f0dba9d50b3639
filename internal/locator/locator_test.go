// internal/locator/locator_test.go
package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Locator
	}{
		{name: "id prefix", in: "id=user-name", want: ByID("user-name")},
		{name: "css prefix", in: "css=[data-test='error']", want: ByCSS("[data-test='error']")},
		{name: "xpath keeps inner equals", in: "xpath=//a[@href='x=y']", want: ByXPath("//a[@href='x=y']")},
		{name: "case insensitive strategy", in: "ID=login-button", want: ByID("login-button")},
		{name: "bare selector is css", in: "#inventory_container", want: ByCSS("#inventory_container")},
		{name: "unknown prefix is css", in: "a[href='x=y']", want: ByCSS("a[href='x=y']")},
		{name: "partial link", in: "partial-link=Sauce", want: ByPartialLinkText("Sauce")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("   ")
	assert.Error(t, err)

	_, err = Parse("id=")
	assert.Error(t, err, "known strategy with empty value must be rejected")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ByName("password").Validate())
	assert.Error(t, Locator{Strategy: "shadow", Value: "x"}.Validate())
	assert.Error(t, ByCSS("  ").Validate())
	assert.Error(t, Locator{}.Validate())
}

func TestLocator_ComparableAndString(t *testing.T) {
	seen := map[Locator]int{ByID("a"): 1}
	seen[ByID("a")]++
	assert.Equal(t, 2, seen[ByID("a")])
	assert.NotEqual(t, ByID("a"), ByName("a"))
	assert.Equal(t, "class=btn", ByClassName("btn").String())
	assert.True(t, Locator{}.IsZero())
	assert.False(t, ByTagName("iframe").IsZero())
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("") })
	assert.NotPanics(t, func() { MustParse("tag=iframe") })
}
