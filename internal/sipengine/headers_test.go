package sipengine

import "testing"

func TestParseRemoteIdentityPrefersRemotePartyID(t *testing.T) {
	rpid := `"Jane Doe" <sip:1002@cucm.example.com>;party=calling;x-cisco-number=5551002`
	from := `"Fallback Name" <sip:9999@cucm.example.com>`

	id := ParseRemoteIdentity(rpid, from)
	if id.DisplayName != "Jane Doe" {
		t.Errorf("DisplayName = %q, want Jane Doe", id.DisplayName)
	}
	if id.Number != "5551002" {
		t.Errorf("Number = %q, want 5551002 (from x-cisco-number)", id.Number)
	}
}

func TestParseRemoteIdentityFallsBackToFromTo(t *testing.T) {
	from := `"John Smith" <sip:1003@cucm.example.com>`
	id := ParseRemoteIdentity("", from)
	if id.DisplayName != "John Smith" {
		t.Errorf("DisplayName = %q, want John Smith", id.DisplayName)
	}
	if id.Number != "1003" {
		t.Errorf("Number = %q, want 1003", id.Number)
	}
}

func TestParseRemoteIdentityNoDisplayNameUsesNumber(t *testing.T) {
	id := ParseRemoteIdentity("", "<sip:1004@cucm.example.com>")
	if id.DisplayName != "1004" {
		t.Errorf("DisplayName = %q, want 1004 (falls back to number)", id.DisplayName)
	}
}

func TestSessionIDParams(t *testing.T) {
	local, remote := sessionIDParams("1234567890abcdef1234567890abcdef;remote=00000000000000000000000000000000")
	if local != "1234567890abcdef1234567890abcdef" {
		t.Errorf("local = %q", local)
	}
	if remote != "00000000000000000000000000000000" {
		t.Errorf("remote = %q", remote)
	}
}

func TestTagValueAndAppendTag(t *testing.T) {
	header := `"Jane Doe" <sip:1002@cucm.example.com>;tag=abc123`
	if got := tagValue(header); got != "abc123" {
		t.Errorf("tagValue() = %q, want abc123", got)
	}

	untagged := `"Jane Doe" <sip:1002@cucm.example.com>`
	tagged := appendTag(untagged, "xyz789")
	if tagValue(tagged) != "xyz789" {
		t.Errorf("appendTag did not add the expected tag: %q", tagged)
	}

	// Appending to an already-tagged header must be a no-op.
	again := appendTag(tagged, "should-not-apply")
	if tagValue(again) != "xyz789" {
		t.Errorf("appendTag overwrote an existing tag: %q", again)
	}
}

func TestParamValueHandlesQuotedAndUnquoted(t *testing.T) {
	header := `<sip:1002@cucm.example.com>;x-cisco-number="5551002";foo=bar`
	if got := paramValue(header, "x-cisco-number"); got != "5551002" {
		t.Errorf("paramValue(x-cisco-number) = %q, want 5551002", got)
	}
	if got := paramValue(header, "foo"); got != "bar" {
		t.Errorf("paramValue(foo) = %q, want bar", got)
	}
	if got := paramValue(header, "missing"); got != "" {
		t.Errorf("paramValue(missing) = %q, want empty", got)
	}
}
