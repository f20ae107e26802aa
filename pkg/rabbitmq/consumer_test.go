package rabbitmq

import "testing"

func TestMatchHandler(t *testing.T) {
	var hit string
	handlers := map[string]func([]byte) bool{
		"transfer.status.*": func([]byte) bool { hit = "wildcard"; return true },
		"payout.completed":  func([]byte) bool { hit = "exact"; return true },
	}

	cases := []struct {
		routingKey string
		wantFound  bool
		wantHit    string
	}{
		{"payout.completed", true, "exact"},
		{"transfer.status.outgoing_payment_sent", true, "wildcard"},
		{"transfer.status.bounced_back", true, "wildcard"},
		{"transfer.status.nested.segment", false, ""},
		{"transfer.status", false, ""},
		{"unrelated.key", false, ""},
	}

	for _, tc := range cases {
		hit = ""
		handler, found := matchHandler(handlers, tc.routingKey)
		if found != tc.wantFound {
			t.Errorf("matchHandler(%q) found=%t, want %t", tc.routingKey, found, tc.wantFound)
			continue
		}
		if !found {
			continue
		}
		handler(nil)
		if hit != tc.wantHit {
			t.Errorf("matchHandler(%q) dispatched %q, want %q", tc.routingKey, hit, tc.wantHit)
		}
	}
}
