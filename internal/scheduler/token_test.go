package scheduler

import "testing"

func TestParseToken(t *testing.T) {
	tests := []struct {
		raw  string
		want Token
	}{
		{"c:abc", Token{Kind: TokenCurrent, ID: "abc"}},
		{"h:0:abc", Token{Kind: TokenHistory, Offset: 0, ID: "abc"}},
		{"h:3:abc", Token{Kind: TokenHistory, Offset: 3, ID: "abc"}},
		{"q:12:a:b", Token{Kind: TokenQueue, Offset: 12, ID: "a:b"}},
		{"abc", Token{Kind: TokenIdentifier, ID: "abc"}},
		{"q:x:abc", Token{Kind: TokenIdentifier, ID: "q:x:abc"}},
		{"h:-1:abc", Token{Kind: TokenIdentifier, ID: "h:-1:abc"}},
		{"h:abc", Token{Kind: TokenIdentifier, ID: "h:abc"}},
		{"", Token{Kind: TokenIdentifier, ID: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseToken(tt.raw)
			if got != tt.want {
				t.Errorf("ParseToken(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTokenString_RoundTrip(t *testing.T) {
	for _, raw := range []string{"c:x", "h:2:x", "q:0:x", "plain"} {
		if got := ParseToken(raw).String(); got != raw {
			t.Errorf("String() = %q, want %q", got, raw)
		}
	}
}

func TestJumpOptions_TokensResolveToListedTrack(t *testing.T) {
	s := New()
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		s.Enqueue(tr(id))
	}
	if _, err := s.JumpToIndex(2); err != nil {
		t.Fatal(err)
	}

	opts := s.JumpOptions(DefaultMaxHistoryOptions, DefaultMaxQueueOptions)

	wantTokens := []string{"h:0:B", "h:1:A", "c:C", "q:0:D", "q:1:E"}
	if len(opts) != len(wantTokens) {
		t.Fatalf("expected %d options, got %d", len(wantTokens), len(opts))
	}
	for i, want := range wantTokens {
		if opts[i].Token != want {
			t.Errorf("option %d: expected token %s, got %s", i, want, opts[i].Token)
		}
	}

	for _, opt := range opts {
		if _, err := s.JumpToIndex(2); err != nil {
			t.Fatal(err)
		}
		got, err := s.JumpToToken(opt.Token)
		if err != nil {
			t.Fatalf("token %s: unexpected error %v", opt.Token, err)
		}
		if got.Identifier != opt.Track.Identifier {
			t.Errorf("token %s: expected %s, got %s", opt.Token, opt.Track.Identifier, got.Identifier)
		}
	}
}

func TestJumpOptions_Limits(t *testing.T) {
	s := New()
	for i := 0; i < 40; i++ {
		s.Enqueue(tr(string(rune('a'+i%26)) + string(rune('0'+i/26))))
	}
	if _, err := s.JumpToIndex(20); err != nil {
		t.Fatal(err)
	}

	opts := s.JumpOptions(10, 14)

	var h, c, q int
	for _, o := range opts {
		switch o.Kind {
		case TokenHistory:
			h++
		case TokenCurrent:
			c++
		case TokenQueue:
			q++
		}
	}
	if h != 10 || c != 1 || q != 14 {
		t.Errorf("expected 10/1/14 options, got %d/%d/%d", h, c, q)
	}
}

func TestJumpOptions_NegativeLimits(t *testing.T) {
	s := New()
	for _, id := range []string{"A", "B", "C"} {
		s.Enqueue(tr(id))
	}
	if _, err := s.JumpToIndex(1); err != nil {
		t.Fatal(err)
	}

	opts := s.JumpOptions(-1, -5)
	if len(opts) != 1 || opts[0].Token != "c:B" {
		t.Errorf("expected only the current track, got %+v", opts)
	}
}
