package extract

import "testing"

func TestTextPassthrough(t *testing.T) {
	cases := []struct {
		name     string
		mime     string
		fileName string
	}{
		{"plain", "text/plain", "resume.txt"},
		{"markdown", "text/markdown", "resume.md"},
		{"charset param", "text/plain; charset=utf-8", "resume.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Text([]byte("raw resume"), tc.mime, tc.fileName)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if got != "raw resume" {
				t.Fatalf("passthrough changed content: %q", got)
			}
		})
	}
}

func TestNormalizeMimeType(t *testing.T) {
	if got := normalizeMimeType("application/pdf; charset=binary", "x"); got != mimePDF {
		t.Fatalf("pdf with params: %s", got)
	}
	if got := normalizeMimeType("application/octet-stream", "resume.PDF"); got != mimePDF {
		t.Fatalf("pdf extension fallback: %s", got)
	}
	if got := normalizeMimeType("text/plain", "resume.txt"); got != "text/plain" {
		t.Fatalf("plain text: %s", got)
	}
}

func TestBrokenPDFErrors(t *testing.T) {
	if _, err := Text([]byte("not a pdf"), "application/pdf", "resume.pdf"); err == nil {
		t.Fatalf("expected error for malformed pdf")
	}
}
