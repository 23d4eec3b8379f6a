package extract

import (
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		keyword  string
		wantCode string
		wantOK   bool
	}{
		{
			name:     "code after keyword",
			body:     "Your DONIKKAH 482910 code",
			keyword:  "DONIKKAH",
			wantCode: "482910",
			wantOK:   true,
		},
		{
			name:     "case insensitive keyword",
			body:     "your donikkah 12345",
			keyword:  "DONIKKAH",
			wantCode: "12345",
			wantOK:   true,
		},
		{
			name:     "no whitespace between keyword and code",
			body:     "DONIKKAH98765 is your login",
			keyword:  "DONIKKAH",
			wantCode: "98765",
			wantOK:   true,
		},
		{
			name:     "alphanumeric code",
			body:     "DONIKKAH A1B2C3",
			keyword:  "DONIKKAH",
			wantCode: "A1B2C3",
			wantOK:   true,
		},
		{
			name:     "keyword only falls back to full body",
			body:     "DONIKKAH",
			keyword:  "DONIKKAH",
			wantCode: "DONIKKAH",
			wantOK:   true,
		},
		{
			name:     "keyword at end falls back to full body",
			body:     "your code is DONIKKAH!",
			keyword:  "DONIKKAH",
			wantCode: "your code is DONIKKAH!",
			wantOK:   true,
		},
		{
			name:    "keyword absent",
			body:    "hello",
			keyword: "DONIKKAH",
			wantOK:  false,
		},
		{
			name:    "empty body",
			body:    "",
			keyword: "DONIKKAH",
			wantOK:  false,
		},
		{
			name:    "empty keyword never matches",
			body:    "some message",
			keyword: "",
			wantOK:  false,
		},
		{
			name:     "keyword with regex metacharacters",
			body:     "ACME+ 5566 is your code",
			keyword:  "ACME+",
			wantCode: "5566",
			wantOK:   true,
		},
		{
			name:     "first occurrence wins",
			body:     "DONIKKAH 111 then DONIKKAH 222",
			keyword:  "DONIKKAH",
			wantCode: "111",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := Extract(tt.body, tt.keyword)
			if ok != tt.wantOK {
				t.Fatalf("Extract(%q, %q) ok = %v, want %v", tt.body, tt.keyword, ok, tt.wantOK)
			}
			if ok && code != tt.wantCode {
				t.Errorf("Extract(%q, %q) = %q, want %q", tt.body, tt.keyword, code, tt.wantCode)
			}
		})
	}
}

func TestExtract_Deterministic(t *testing.T) {
	body := "Your DONIKKAH 482910 code"
	first, _ := Extract(body, "DONIKKAH")
	for i := 0; i < 10; i++ {
		got, _ := Extract(body, "DONIKKAH")
		if got != first {
			t.Fatalf("Extract not deterministic: %q vs %q", got, first)
		}
	}
}
