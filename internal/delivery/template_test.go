package delivery

import (
	"encoding/json"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		keyword string
		code    string
		phone   string
		want    string
	}{
		{
			name:    "basic substitution",
			tmpl:    `{ "code": "%code%", "phone": "%phone%" }`,
			keyword: "DONIKKAH",
			code:    "482910",
			phone:   "+15550001",
			want:    `{ "code": "482910", "phone": "+15550001" }`,
		},
		{
			name:    "single quotes normalized",
			tmpl:    `{ 'code': '%code%' }`,
			keyword: "DONIKKAH",
			code:    "482910",
			phone:   "+15550001",
			want:    `{ "code": "482910" }`,
		},
		{
			name:    "keyword stripped from legacy code",
			tmpl:    `{ "code": "%code%" }`,
			keyword: "DONIKKAH",
			code:    "DONIKKAH 482910",
			phone:   "+15550001",
			want:    `{ "code": "482910" }`,
		},
		{
			name:    "keyword stripped case-insensitively",
			tmpl:    `%code%`,
			keyword: "DONIKKAH",
			code:    "donikkah482910",
			phone:   "+15550001",
			want:    `482910`,
		},
		{
			name:    "unresolved placeholder passes through",
			tmpl:    `{ "code": "%code%", "extra": "%mystery%" }`,
			keyword: "DONIKKAH",
			code:    "482910",
			phone:   "+15550001",
			want:    `{ "code": "482910", "extra": "%mystery%" }`,
		},
		{
			name:    "template without placeholders unchanged",
			tmpl:    `{"static": true}`,
			keyword: "DONIKKAH",
			code:    "482910",
			phone:   "+15550001",
			want:    `{"static": true}`,
		},
		{
			name:    "empty keyword leaves code intact",
			tmpl:    `%code%`,
			keyword: "",
			code:    " 482910 ",
			phone:   "+15550001",
			want:    `482910`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.tmpl, tt.keyword, tt.code, tt.phone)
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

// The default template with the default keyword must render valid JSON.
func TestRender_DefaultTemplateIsValidJSON(t *testing.T) {
	out := Render(`{ "code": "%code%", "phone": "%phone%" }`, "DONIKKAH", "482910", "+15550001")

	var decoded map[string]string
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("rendered payload is not valid JSON: %v\npayload: %s", err, out)
	}
	if decoded["code"] != "482910" {
		t.Errorf("code = %q, want 482910", decoded["code"])
	}
	if decoded["phone"] != "+15550001" {
		t.Errorf("phone = %q, want +15550001", decoded["phone"])
	}
}
