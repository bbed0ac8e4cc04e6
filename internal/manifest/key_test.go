package manifest

import "testing"

const testOrigin = "https://app.example.com"

func TestResolveKeyRootNormalization(t *testing.T) {
	for _, raw := range []string{
		testOrigin,
		testOrigin + "/",
		testOrigin + "/#/anything",
		testOrigin + "/#",
		testOrigin + "/?v=42",
	} {
		key, ok := ResolveKey(testOrigin, raw)
		if !ok || key != RootKey {
			t.Fatalf("ResolveKey(%q) = %q, %v; want root", raw, key, ok)
		}
	}
	if URLFor(testOrigin, RootKey) != testOrigin+"/" {
		t.Fatalf("root URL mismatch: %s", URLFor(testOrigin, RootKey))
	}
}

func TestResolveKeyStripsVersionQuery(t *testing.T) {
	plain, _ := ResolveKey(testOrigin, testOrigin+"/main.dart.js")
	busted, _ := ResolveKey(testOrigin, testOrigin+"/main.dart.js?v=123")
	if plain != "main.dart.js" || busted != plain {
		t.Fatalf("expected both to resolve to main.dart.js, got %q and %q", plain, busted)
	}
	if URLFor(testOrigin, busted) != URLFor(testOrigin, plain) {
		t.Fatalf("canonical URLs should match")
	}
}

func TestResolveKeyKeepsOtherQueries(t *testing.T) {
	key, ok := ResolveKey(testOrigin, testOrigin+"/assets/data.json?lang=en")
	if !ok || key != "assets/data.json?lang=en" {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestResolveKeyRejectsForeignOrigin(t *testing.T) {
	if _, ok := ResolveKey(testOrigin, "https://fonts.example.net/font.ttf"); ok {
		t.Fatalf("foreign origin should not resolve")
	}
	if _, ok := ResolveKey(testOrigin, testOrigin+".evil.net/main.dart.js"); ok {
		t.Fatalf("origin prefix lookalike should not resolve")
	}
}

func TestResolveKeyTrailingSlashOrigin(t *testing.T) {
	key, ok := ResolveKey(testOrigin+"/", testOrigin+"/flutter.js")
	if !ok || key != "flutter.js" {
		t.Fatalf("unexpected key %q", key)
	}
}
