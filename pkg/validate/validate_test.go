package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateJobName(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple", "my-job-123", nil},
		{"underscore", "test_job", nil},
		{"empty", "", ErrEmpty},
		{"whitespace only", "   ", ErrEmpty},
		{"space inside", "my job", ErrInvalidChars},
		{"injection", "job;rm -rf", ErrForbiddenPattern},
		{"subshell", "job$(id)", ErrForbiddenPattern},
		{"traversal", "../job", ErrForbiddenPattern},
		{"too long", strings.Repeat("a", MaxNameLen+1), ErrTooLong},
		{"exactly max", strings.Repeat("a", MaxNameLen), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateJobName(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateJobName(%q) = %v, want nil", tt.input, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateJobName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	v := New()

	if err := v.ValidatePath("/home/user/data"); err != nil {
		t.Errorf("ValidatePath(/home/user/data) = %v, want nil", err)
	}
	if err := v.ValidatePath("../../../etc/passwd"); !errors.Is(err, ErrForbiddenPattern) {
		t.Errorf("traversal path error = %v, want ErrForbiddenPattern", err)
	}
	if err := v.ValidatePath("/path/with\x00null"); !errors.Is(err, ErrInvalidChars) {
		t.Errorf("null byte path error = %v, want ErrInvalidChars", err)
	}
	if err := v.ValidatePath(strings.Repeat("/a", MaxPathLen)); !errors.Is(err, ErrTooLong) {
		t.Errorf("long path error = %v, want ErrTooLong", err)
	}
}

func TestValidateCommand(t *testing.T) {
	v := New()

	valid := []string{"python train.py", "python", "python3 -m pytest"}
	for _, cmd := range valid {
		if err := v.ValidateCommand(cmd); err != nil {
			t.Errorf("ValidateCommand(%q) = %v, want nil", cmd, err)
		}
	}

	injections := []string{
		"$(cat /etc/passwd)",
		"echo `whoami`",
		"cmd1 && cmd2",
		"cmd1 || cmd2",
		"cmd ; rm -rf /",
		"cat file | grep secret",
		"echo > /etc/passwd",
		"sort < input",
		"cat ../secrets",
	}
	for _, cmd := range injections {
		if err := v.ValidateCommand(cmd); !errors.Is(err, ErrForbiddenPattern) {
			t.Errorf("ValidateCommand(%q) = %v, want ErrForbiddenPattern", cmd, err)
		}
	}

	if err := v.ValidateCommand(""); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty command error = %v, want ErrEmpty", err)
	}
}

func TestValidateRange_Boundaries(t *testing.T) {
	v := New()

	// Inclusive at both ends.
	if err := v.ValidateRange("test", 0, 0, 100); err != nil {
		t.Errorf("min boundary = %v, want nil", err)
	}
	if err := v.ValidateRange("test", 100, 0, 100); err != nil {
		t.Errorf("max boundary = %v, want nil", err)
	}
	if err := v.ValidateRange("test", -1, 0, 100); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("below min = %v, want ErrOutOfRange", err)
	}
	if err := v.ValidateRange("test", 101, 0, 100); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("above max = %v, want ErrOutOfRange", err)
	}
}

func TestValidateGPUCount(t *testing.T) {
	v := New()

	for _, n := range []int{0, 8, 512, 1024} {
		if err := v.ValidateGPUCount(n); err != nil {
			t.Errorf("ValidateGPUCount(%d) = %v, want nil", n, err)
		}
	}
	for _, n := range []int{-1, 1025} {
		if err := v.ValidateGPUCount(n); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ValidateGPUCount(%d) = %v, want ErrOutOfRange", n, err)
		}
	}
}

func TestValidatePriority(t *testing.T) {
	v := New()

	for _, p := range []int{-1000, -100, 0, 1000} {
		if err := v.ValidatePriority(p); err != nil {
			t.Errorf("ValidatePriority(%d) = %v, want nil", p, err)
		}
	}
	for _, p := range []int{-1001, 1001} {
		if err := v.ValidatePriority(p); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ValidatePriority(%d) = %v, want ErrOutOfRange", p, err)
		}
	}
}

func TestValidateBufferSize(t *testing.T) {
	v := New()

	for _, n := range []int{1, 1024, 1 << 20, 1 << 30} {
		if err := v.ValidateBufferSize(n); err != nil {
			t.Errorf("ValidateBufferSize(%d) = %v, want nil", n, err)
		}
	}
	for _, n := range []int{0, 1<<30 + 1} {
		if err := v.ValidateBufferSize(n); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ValidateBufferSize(%d) = %v, want ErrOutOfRange", n, err)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello\x00world", "helloworld"},
		{"line1\nline2", "line1\nline2"},
		{"a\tb", "a\tb"},
		{"a\x01\x07\x1bb", "ab"},
		{"hello world", "hello world"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeString(tt.in); got != tt.want {
			t.Errorf("SanitizeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeLogMessage(t *testing.T) {
	short := "short message"
	if got := SanitizeLogMessage(short); got != short {
		t.Errorf("SanitizeLogMessage(%q) = %q, want unchanged", short, got)
	}

	atMax := strings.Repeat("a", MaxStringLen)
	if got := SanitizeLogMessage(atMax); got != atMax {
		t.Error("message at max length should not be truncated")
	}

	overMax := strings.Repeat("a", MaxStringLen+100)
	got := SanitizeLogMessage(overMax)
	if !strings.HasSuffix(got, "... [truncated]") {
		t.Errorf("oversized message should carry truncation marker, got suffix %q", got[len(got)-20:])
	}
	if len(got) >= len(overMax) {
		t.Errorf("truncated length = %d, want < %d", len(got), len(overMax))
	}
}
