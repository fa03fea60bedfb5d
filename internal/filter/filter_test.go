package filter

import "testing"

func TestQualifies(t *testing.T) {
	q := New(nil, nil)

	tests := []struct {
		name    string
		subject string
		from    string
		want    bool
	}{
		{"promotional brackets", "【セール】特別価格", "sales@example.com", false},
		{"plain business mail", "会議の件について", "colleague@company.com", true},
		{"promotional keyword", "春の大特集のご案内", "info@example.com", false},
		{"bulk sender domain", "お知らせ", "noreply@mail.misumi.co.jp", false},
		{"bulk sender domain uppercase", "hello", "News@IPROS.example", false},
		{"webinar invite", "WEBセミナー開催のお知らせ", "events@example.com", false},
		{"ordinary english mail", "Meeting notes", "partner@example.org", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.Qualifies(tt.subject, tt.from); got != tt.want {
				t.Fatalf("Qualifies(%q, %q) = %v, want %v", tt.subject, tt.from, got, tt.want)
			}
		})
	}
}

func TestCustomListsReplaceDefaults(t *testing.T) {
	q := New([]string{"spam"}, []string{"badhost"})

	if q.Qualifies("this is spam", "anyone@example.com") {
		t.Fatal("custom keyword not applied")
	}
	if q.Qualifies("fine", "user@badhost.example") {
		t.Fatal("custom domain not applied")
	}
	// Default keyword list is replaced, not merged.
	if !q.Qualifies("【セール】", "user@example.com") {
		t.Fatal("default keywords should be replaced by custom list")
	}
}
