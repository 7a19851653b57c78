package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", "John"),
		MaxLength("name", "John", 10),
	)
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}

	errs = Validate(
		Required("name", ""),
		MaxLength("vendorUrl", strings.Repeat("a", 20), 10),
	)
	if len(errs) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errs))
	}
}

func TestRequired(t *testing.T) {
	if err := Required("name", "John")(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := Required("name", "   ")(); err == nil {
		t.Error("Expected error for blank field")
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("field", "hello", 10)(); err != nil {
		t.Error("Expected no error for string under limit")
	}
	if err := MaxLength("field", "hello", 5)(); err != nil {
		t.Error("Expected no error for string at limit")
	}
	if err := MaxLength("field", "hello world", 5)(); err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	if errs.Error() != "validation failed" {
		t.Errorf("unexpected message for empty ValidationErrors: %q", errs.Error())
	}

	errs = ValidationErrors{{Field: "amount", Message: "is required"}}
	if errs.Error() != "amount: is required" {
		t.Errorf("unexpected message: %q", errs.Error())
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/test", func(c *gin.Context) {
		body := make([]byte, 1024)
		n, _ := c.Request.Body.Read(body)
		_ = n
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("x", 1024)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// http.MaxBytesReader surfaces the overage as a read error inside the
	// handler rather than an automatic status code, so this only confirms
	// the middleware doesn't reject the request outright before the handler runs.
	if w.Code != http.StatusOK {
		t.Errorf("expected handler to run, got status %d", w.Code)
	}
}
