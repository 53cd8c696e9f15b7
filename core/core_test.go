package core

import "testing"

func TestTitle(t *testing.T) {
	cases := map[string]string{
		"health":       "Health",
		"MANA":         "Mana",
		"high grade":   "High Grade",
		"extra-strong": "Extra-Strong",
		"":             "",
	}
	for in, want := range cases {
		if got := Title(in); got != want {
			t.Errorf("Title(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := NewError(KindStorageConflict, "duplicate color")
	if !IsKind(err, KindStorageConflict) {
		t.Error("expected storage conflict kind")
	}
	if IsKind(err, KindNotFound) {
		t.Error("kind must not match other kinds")
	}
	if Detail(err) != "duplicate color" {
		t.Errorf("unexpected detail %q", Detail(err))
	}
}
