package vault

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/vaultgrep/internal/config"
)

func readDocument(t *testing.T, svc *Service, args ReadArgument) *mcp.CallToolResult {
	t.Helper()
	result, _, err := NewReadHandler(svc).Handle(context.Background(), &mcp.CallToolRequest{}, args)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	return result
}

func TestReadHandler_NotReady(t *testing.T) {
	svc, err := NewService(testSettings(t.TempDir()))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer func() { _ = svc.Close() }()

	if result := readDocument(t, svc, ReadArgument{Document: "notes/a.md"}); !result.IsError {
		t.Error("Expected error result when service not ready")
	}
}

func TestReadHandler_ReadsDocument(t *testing.T) {
	svc, _ := setupService(t, vaultFiles, nil)

	result := readDocument(t, svc, ReadArgument{Document: "notes/a.md"})
	if result.IsError {
		t.Fatalf("Unexpected error: %s", resultText(result))
	}

	text := resultText(result)
	for _, want := range []string{
		"**Document**: `notes/a.md`",
		"**Size**: 23 bytes",
		"```markdown\nfoo bar\nsecond line foo\n```",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "**Lines**") {
		t.Errorf("Full reads must not report a line range:\n%s", text)
	}
}

func TestReadHandler_LineRange(t *testing.T) {
	svc, _ := setupService(t, map[string]string{"list.txt": "one\ntwo\nthree\nfour"}, nil)

	tests := []struct {
		name       string
		start, end int
		wantBody   string
		wantRange  string
	}{
		{"middle", 2, 3, "```\ntwo\nthree\n```", "**Lines**: 2-3 of 4"},
		{"from start", 0, 1, "```\none\n```", "**Lines**: 1-1 of 4"},
		{"to end", 3, 0, "```\nthree\nfour\n```", "**Lines**: 3-4 of 4"},
		{"end clamped", 4, 10, "```\nfour\n```", "**Lines**: 4-4 of 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := readDocument(t, svc, ReadArgument{Document: "list.txt", StartLine: tt.start, EndLine: tt.end})
			if result.IsError {
				t.Fatalf("Unexpected error: %s", resultText(result))
			}
			text := resultText(result)
			if !strings.Contains(text, tt.wantBody) {
				t.Errorf("Expected body %q in:\n%s", tt.wantBody, text)
			}
			if !strings.Contains(text, tt.wantRange) {
				t.Errorf("Expected range %q in:\n%s", tt.wantRange, text)
			}
		})
	}
}

func TestReadHandler_Errors(t *testing.T) {
	svc, _ := setupService(t, map[string]string{
		"notes/a.md":  "foo",
		"big.md":      strings.Repeat("x", 2048),
		"binary.json": "ab\x00cd",
	}, func(s *config.Settings) {
		s.Search.MaxFileSize = 1024
	})

	tests := []struct {
		name    string
		args    ReadArgument
		wantMsg string
	}{
		{"empty", ReadArgument{Document: " "}, "Document cannot be empty"},
		{"traversal", ReadArgument{Document: "../etc/passwd"}, "Invalid document"},
		{"absolute", ReadArgument{Document: "/etc/passwd"}, "Invalid document"},
		{"missing", ReadArgument{Document: "notes/missing.md"}, "Document not found: notes/missing.md"},
		{"too large", ReadArgument{Document: "big.md"}, "Document too large (2.00 KB)"},
		{"binary", ReadArgument{Document: "binary.json"}, "Cannot display binary document content"},
		{"negative line", ReadArgument{Document: "notes/a.md", StartLine: -1}, "cannot be negative"},
		{"inverted range", ReadArgument{Document: "notes/a.md", StartLine: 3, EndLine: 2}, "is after end_line"},
		{"past end", ReadArgument{Document: "notes/a.md", StartLine: 5}, "past the end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := readDocument(t, svc, tt.args)
			if !result.IsError {
				t.Fatalf("Expected error result, got:\n%s", resultText(result))
			}
			if text := resultText(result); !strings.Contains(text, tt.wantMsg) {
				t.Errorf("Expected %q in %q", tt.wantMsg, text)
			}
		})
	}
}

func TestFenceLanguage(t *testing.T) {
	tests := map[string]string{
		"md":   "markdown",
		"js":   "javascript",
		"ts":   "typescript",
		"json": "json",
		"yml":  "yaml",
		"txt":  "",
		"":     "",
	}
	for ext, want := range tests {
		if got := fenceLanguage(ext); got != want {
			t.Errorf("fenceLanguage(%q) = %q, want %q", ext, got, want)
		}
	}
}
