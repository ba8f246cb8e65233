package document

import (
	"bytes"
	"testing"
)

func TestMarshalIsDeterministic(t *testing.T) {
	doc := Document{"zeta": 1, "alpha": "x", "mid": true}

	first, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		again, err := Marshal(doc)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("serialization is not deterministic: %s vs %s", first, again)
		}
	}
	// Keys come out sorted, which is what makes batch boundaries reproducible.
	want := `{"alpha":"x","mid":true,"zeta":1}`
	if string(first) != want {
		t.Errorf("expected %s, got %s", want, first)
	}
}

func TestMarshalNestedValues(t *testing.T) {
	doc := Document{
		"id":   int64(7),
		"tags": []any{"a", "b"},
		"geo":  map[string]any{"lat": 48.86, "lng": 2.35},
		"nil":  nil,
	}
	data, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"geo":{"lat":48.86,"lng":2.35},"id":7,"nil":null,"tags":["a","b"]}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}
