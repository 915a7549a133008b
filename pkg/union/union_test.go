package union

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type catFood struct {
	Flavor string `json:"flavor"`
}

type dogFood struct {
	Kibble bool   `json:"kibble"`
	Brand  string `json:"brand,omitempty"`
}

type food struct {
	Grams int    `json:"grams"`
	Note  string `json:"note,omitempty"`

	Cat *catFood `union:"animal,cat" json:"-"`
	Dog *dogFood `union:"animal,dog" json:"-"`
}

func TestMarshalFlattensActiveVariant(t *testing.T) {
	bs, err := Marshal(food{Grams: 50, Cat: &catFood{Flavor: "salmon"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"animal":"cat","grams":50,"flavor":"salmon"}`, string(bs))
}

func TestMarshalHonorsOmitempty(t *testing.T) {
	bs, err := Marshal(food{Grams: 10, Dog: &dogFood{Kibble: true}})
	require.NoError(t, err)
	require.JSONEq(t, `{"animal":"dog","grams":10,"kibble":true}`, string(bs))

	bs, err = Marshal(food{Grams: 10, Note: "small", Dog: &dogFood{Kibble: true, Brand: "acme"}})
	require.NoError(t, err)
	require.JSONEq(t,
		`{"animal":"dog","grams":10,"note":"small","kibble":true,"brand":"acme"}`, string(bs))
}

func TestUnmarshalSelectsVariant(t *testing.T) {
	var f food
	require.NoError(t, Unmarshal([]byte(`{"animal":"cat","grams":3,"flavor":"tuna"}`), &f))
	require.NotNil(t, f.Cat)
	require.Nil(t, f.Dog)
	require.Equal(t, "tuna", f.Cat.Flavor)
}

func TestUnmarshalZeroesSiblingVariants(t *testing.T) {
	f := food{Dog: &dogFood{Kibble: true}}
	require.NoError(t, Unmarshal([]byte(`{"animal":"cat","flavor":"tuna"}`), &f))
	require.NotNil(t, f.Cat)
	require.Nil(t, f.Dog)
}

func TestUnmarshalUnknownVariantIsEmptyNotFatal(t *testing.T) {
	var f food
	require.NoError(t, Unmarshal([]byte(`{"animal":"ferret","pellets":12}`), &f))
	require.Nil(t, f.Cat)
	require.Nil(t, f.Dog)
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	var f food
	require.NoError(t, Unmarshal(
		[]byte(`{"animal":"dog","kibble":false,"bowl":"ceramic"}`), &f))
	require.NotNil(t, f.Dog)
}

func TestRoundTrip(t *testing.T) {
	orig := food{Grams: 7, Dog: &dogFood{Kibble: true, Brand: "acme"}}
	bs, err := Marshal(orig)
	require.NoError(t, err)

	var parsed food
	require.NoError(t, Unmarshal(bs, &parsed))
	require.Nil(t, parsed.Cat)
	require.Equal(t, orig.Dog, parsed.Dog)
}
